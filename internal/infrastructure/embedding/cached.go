package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"

	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
)

// VectorCache Read-Through 缓存，同键并发加载只执行一次
type VectorCache interface {
	GetOrLoadSafe(ctx context.Context, key string, ttl time.Duration, loader func() (any, error)) ([]byte, error)
}

// Cached 为单条查询文本的向量加缓存；批量请求直接透传
//
// 检索时每个问题只编码一条文本，重复问题（批量评测、同一问题的多次迭代）命中缓存。
type Cached struct {
	inner embedding.Embedder
	cache VectorCache
	ttl   time.Duration
	key   func(text string) string
}

var _ embedding.Embedder = (*Cached)(nil)

// NewCached 创建缓存 Embedder；key 由调用方按模型生成
func NewCached(inner embedding.Embedder, cache VectorCache, ttl time.Duration, key func(text string) string) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl, key: key}
}

func (c *Cached) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) != 1 {
		return c.inner.EmbedStrings(ctx, texts, opts...)
	}

	var (
		loaded  bool
		loadErr error
	)
	raw, err := c.cache.GetOrLoadSafe(ctx, c.key(texts[0]), c.ttl, func() (any, error) {
		loaded = true
		out, err := c.inner.EmbedStrings(ctx, texts, opts...)
		if err == nil && len(out) != 1 {
			err = fmt.Errorf("embedder returned %d vectors for 1 text", len(out))
		}
		if err != nil {
			loadErr = err
			return nil, err
		}
		return out[0], nil
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if err != nil {
		// 缓存不可用时直接调用下游
		logger.Warn(ctx, "embedding cache unavailable", "error", err.Error())
		return c.inner.EmbedStrings(ctx, texts, opts...)
	}

	var vec []float64
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		logger.Warn(ctx, "embedding cache entry unreadable")
		return c.inner.EmbedStrings(ctx, texts, opts...)
	}
	if loaded {
		metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
	} else {
		metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
	}
	return [][]float64{vec}, nil
}
