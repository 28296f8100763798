package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/embedding"

	"finqa-api/internal/application/retrieval"
	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
)

type memSource struct {
	entries []entity.CatalogEntry
	lookups int
	err     error
}

func (s *memSource) Entries(context.Context) ([]entity.CatalogEntry, error) {
	return s.entries, s.err
}

func (s *memSource) Lookup(_ context.Context, id string) (entity.CatalogEntry, bool, error) {
	s.lookups++
	if s.err != nil {
		return entity.CatalogEntry{}, false, s.err
	}
	for _, e := range s.entries {
		if entity.CanonicalTableID(e.CanonicalID) == id {
			return e, true, nil
		}
	}
	return entity.CatalogEntry{}, false, nil
}

// runeEmbedder 按字符计数生成确定性向量
type runeEmbedder struct{}

func (runeEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, 16)
		for _, r := range t {
			v[int(r)%16]++
		}
		out[i] = v
	}
	return out, nil
}

func sampleEntries(n int) []entity.CatalogEntry {
	out := make([]entity.CatalogEntry, n)
	for i := range out {
		out[i] = entity.CatalogEntry{
			CanonicalID:         fmt.Sprintf("db.t%d", i),
			DisplayNameLocal:    fmt.Sprintf("库.表%d", i),
			DisplayNameExternal: fmt.Sprintf("db.t%d", i),
			Description:         fmt.Sprintf("描述%d", i),
		}
	}
	return out
}

func TestCatalogAtAndByID(t *testing.T) {
	c := New([]entity.CatalogEntry{{CanonicalID: "DB.Stock"}, {CanonicalID: "db.fund"}})
	if e, ok := c.At(1); !ok || e.CanonicalID != "db.fund" {
		t.Fatalf("At(1) = %+v, %v", e, ok)
	}
	if _, ok := c.At(2); ok {
		t.Fatalf("At(2) should be out of range")
	}
	if _, ok := c.At(-1); ok {
		t.Fatalf("At(-1) should be out of range")
	}
	if e, ok := c.ByID("db.STOCK"); !ok || e.CanonicalID != "db.stock" {
		t.Fatalf("ByID = %+v, %v", e, ok)
	}
}

func TestResolvePreservesOrderAndDedups(t *testing.T) {
	entries := []entity.CatalogEntry{
		{CanonicalID: "db.a"},
		{CanonicalID: "db.b"},
		{CanonicalID: "db.a"},
		{CanonicalID: "db.c"},
	}
	r := NewResolver(New(entries), nil)
	got, err := r.Resolve(context.Background(), []entity.RetrievalHit{
		{Position: 3, Score: 0.9},
		{Position: 2, Score: 0.8},
		{Position: 1, Score: 0.7},
		{Position: 0, Score: 0.6},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"db.c", "db.a", "db.b"}
	if len(got) != len(want) {
		t.Fatalf("got %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].CanonicalID != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i].CanonicalID, want[i])
		}
	}
}

func TestResolveOutOfRangeIsDataConsistencyError(t *testing.T) {
	ctx := context.Background()
	ix := retrieval.NewFlatIndex()
	vectors := make([][]float32, 10)
	for i := range vectors {
		vectors[i] = []float32{float32(i)}
	}
	if err := ix.Build(ctx, vectors); err != nil {
		t.Fatalf("build: %v", err)
	}
	hits, err := ix.Search(ctx, []float32{9}, 1)
	if err != nil || hits[0].Position != 9 {
		t.Fatalf("search: %+v %v", hits, err)
	}

	r := NewResolver(New(sampleEntries(9)), nil)
	_, err = r.Resolve(ctx, hits)
	if !errors.Is(err, apperrors.ErrDataConsistencyError) {
		t.Fatalf("expected DataConsistencyError, got %v", err)
	}
}

func TestResolveRereadsDisplayMetadataEveryCall(t *testing.T) {
	ctx := context.Background()
	src := &memSource{entries: sampleEntries(2)}
	cat, err := Load(ctx, src)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r := NewResolver(cat, src)

	hits := []entity.RetrievalHit{{Position: 1, Score: 1}}
	first, _ := r.Resolve(ctx, hits)
	if first[0].Description != "描述1" {
		t.Fatalf("description = %q", first[0].Description)
	}

	src.entries[1].Description = "更新后的描述"
	src.entries[1].DisplayNameExternal = "db.t1_v2"
	second, _ := r.Resolve(ctx, hits)
	if second[0].Description != "更新后的描述" {
		t.Fatalf("display metadata was cached: %q", second[0].Description)
	}
	if src.lookups != 2 {
		t.Fatalf("lookups = %d, want 2", src.lookups)
	}
	if second[0].DisplayNameExternal != "db.t1_v2" {
		t.Fatalf("external name was cached: %q", second[0].DisplayNameExternal)
	}
	if second[0].CanonicalID != "db.t1" {
		t.Fatalf("canonical id must stay stable: %q", second[0].CanonicalID)
	}
}

func TestResolveKeepsLoadedMetadataWhenSourceFails(t *testing.T) {
	ctx := context.Background()
	src := &memSource{entries: sampleEntries(1)}
	cat, _ := Load(ctx, src)
	src.err = errors.New("file vanished")

	got, err := NewResolver(cat, src).Resolve(ctx, []entity.RetrievalHit{{Position: 0, Score: 1}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got[0].Description != "描述0" {
		t.Fatalf("description = %q", got[0].Description)
	}
}

func TestRoundTripSingleEntryCatalog(t *testing.T) {
	ctx := context.Background()
	entry := entity.CatalogEntry{
		CanonicalID:      "astockmarketquotationdb.lc_dindicesforvaluation",
		DisplayNameLocal: "上市公司股票行情.指数估值指标",
		Description:      "收录各指数的估值指标数据",
	}
	cat := New([]entity.CatalogEntry{entry})
	ix := retrieval.NewFlatIndex()
	if err := retrieval.NewIndexer(runeEmbedder{}, ix, 0).BuildFromCatalog(ctx, cat); err != nil {
		t.Fatalf("build: %v", err)
	}

	rt := retrieval.NewRetriever(runeEmbedder{}, ix, retrieval.Options{}, "")
	hits, err := rt.Retrieve(ctx, entry.Representation(), 1, 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if hits[0].Score != 1 {
		t.Fatalf("identical text should score 1, got %v", hits[0].Score)
	}

	got, err := NewResolver(cat, nil).Resolve(ctx, hits)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(got) != 1 || got[0].CanonicalID != entry.CanonicalID {
		t.Fatalf("round trip = %+v", got)
	}
}
