package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"finqa-api/internal/config"
	"finqa-api/pkg/retry"
)

func noWait() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Backoff{Initial: time.Millisecond},
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestClientBatchesAndRetries(t *testing.T) {
	var (
		mu      sync.Mutex
		batches []int
		fails   = 1
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		mu.Lock()
		defer mu.Unlock()
		if fails > 0 {
			fails--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		batches = append(batches, len(req.Texts))
		resp := embedResponse{}
		for i := range req.Texts {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(len(req.Texts[i])), 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(&config.EmbeddingConfig{Endpoint: srv.URL, BatchSize: 2}, noWait())
	out, err := c.EmbedStrings(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedStrings: %v", err)
	}
	if len(out) != 3 || out[2][0] != 3 {
		t.Fatalf("out = %v", out)
	}
	if len(batches) != 2 || batches[0] != 2 || batches[1] != 1 {
		t.Fatalf("batches = %v", batches)
	}
}

func TestClientClientErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(&config.EmbeddingConfig{Endpoint: srv.URL}, noWait())
	if _, err := c.EmbedStrings(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestClientEmptyEndpoint(t *testing.T) {
	c := NewClient(&config.EmbeddingConfig{}, noWait())
	if _, err := c.EmbedStrings(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error")
	}
	out, err := c.EmbedStrings(context.Background(), nil)
	if err != nil || len(out) != 0 {
		t.Fatalf("empty input = %v, %v", out, err)
	}
}

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 2}
	}
	return out, nil
}

// memCache 进程内 VectorCache
type memCache struct {
	data map[string][]byte
	err  error
}

func (m *memCache) GetOrLoadSafe(_ context.Context, key string, _ time.Duration, loader func() (any, error)) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	if b, ok := m.data[key]; ok {
		return b, nil
	}
	v, err := loader()
	if err != nil {
		return nil, err
	}
	b, _ := json.Marshal(v)
	m.data[key] = b
	return b, nil
}

func TestCachedHitsAfterFirstLoad(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, &memCache{data: map[string][]byte{}}, time.Hour, func(s string) string { return "k:" + s })

	for range 3 {
		out, err := c.EmbedStrings(context.Background(), []string{"q"})
		if err != nil || len(out) != 1 || out[0][1] != 2 {
			t.Fatalf("out = %v err = %v", out, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d", inner.calls)
	}

	if _, err := c.EmbedStrings(context.Background(), []string{"a", "b"}); err != nil || inner.calls != 2 {
		t.Fatalf("batch should bypass cache: calls = %d err = %v", inner.calls, err)
	}
}

func TestCachedFallsBackWhenCacheDown(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, &memCache{err: errors.New("redis down")}, time.Hour, func(s string) string { return s })

	out, err := c.EmbedStrings(context.Background(), []string{"q"})
	if err != nil || len(out) != 1 || inner.calls != 1 {
		t.Fatalf("out = %v err = %v calls = %d", out, err, inner.calls)
	}
}

func TestCachedPropagatesEmbedderError(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("quota")}
	c := NewCached(inner, &memCache{data: map[string][]byte{}}, time.Hour, func(s string) string { return s })

	if _, err := c.EmbedStrings(context.Background(), []string{"q"}); err == nil || inner.calls != 1 {
		t.Fatalf("err = %v calls = %d", err, inner.calls)
	}
}
