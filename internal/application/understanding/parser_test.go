package understanding

import (
	"context"
	"errors"
	"testing"

	"finqa-api/internal/domain/entity"
	wfmodel "finqa-api/internal/workflow/model"
	apperrors "finqa-api/pkg/errors"
)

type stubRewriter struct {
	out   string
	calls int
}

func (s *stubRewriter) Rewrite(context.Context, string, *entity.QuestionContext) (string, error) {
	s.calls++
	return s.out, nil
}

type stubRetriever struct {
	hits  []entity.RetrievalHit
	err   error
	texts []string
	ks    []int
}

func (s *stubRetriever) Retrieve(_ context.Context, text string, k int, _ float64) ([]entity.RetrievalHit, error) {
	s.texts = append(s.texts, text)
	s.ks = append(s.ks, k)
	return s.hits, s.err
}

type stubResolver struct {
	entries []entity.CatalogEntry
}

func (s stubResolver) Resolve(_ context.Context, hits []entity.RetrievalHit) ([]entity.CatalogEntry, error) {
	out := make([]entity.CatalogEntry, 0, len(hits))
	for _, h := range hits {
		if h.Position >= len(s.entries) {
			return nil, apperrors.ErrDataConsistencyError
		}
		out = append(out, s.entries[h.Position])
	}
	return out, nil
}

type stubExtractor struct {
	res    *wfmodel.Extraction
	tables []entity.CatalogEntry
}

func (s *stubExtractor) Extract(_ context.Context, _ string, tables []entity.CatalogEntry) (*wfmodel.Extraction, error) {
	s.tables = tables
	return s.res, nil
}

var catalogEntries = []entity.CatalogEntry{
	{CanonicalID: "db.a"},
	{CanonicalID: "db.b"},
	{CanonicalID: "db.c"},
}

func TestUnderstandWithoutContextSkipsRewrite(t *testing.T) {
	rw := &stubRewriter{out: "rewritten"}
	rt := &stubRetriever{hits: []entity.RetrievalHit{{Position: 2}, {Position: 0}}}
	ex := &stubExtractor{res: &wfmodel.Extraction{}}
	p := NewParser(rw, rt, stubResolver{catalogEntries}, ex, 0, -1)

	u, err := p.Understand(context.Background(), "原问题", &entity.QuestionContext{})
	if err != nil {
		t.Fatalf("understand: %v", err)
	}
	if rw.calls != 0 {
		t.Fatalf("rewriter called %d times for empty context", rw.calls)
	}
	if u.RewrittenQuestion != "原问题" || rt.texts[0] != "原问题" {
		t.Fatalf("question changed: %q / %q", u.RewrittenQuestion, rt.texts[0])
	}
	if rt.ks[0] != DefaultTopK {
		t.Fatalf("k = %d, want %d", rt.ks[0], DefaultTopK)
	}
	if len(u.RelevantTables) != 2 || u.RelevantTables[0].CanonicalID != "db.c" {
		t.Fatalf("tables = %+v", u.RelevantTables)
	}
}

func TestUnderstandWithContextRewritesBeforeRetrieval(t *testing.T) {
	rw := &stubRewriter{out: "改写后"}
	rt := &stubRetriever{hits: []entity.RetrievalHit{{Position: 0}}}
	ex := &stubExtractor{res: &wfmodel.Extraction{}}
	p := NewParser(rw, rt, stubResolver{catalogEntries}, ex, 10, -1)

	qctx := &entity.QuestionContext{History: []entity.Message{{Role: entity.RoleHuman, Content: "x"}}}
	u, err := p.Understand(context.Background(), "它呢", qctx)
	if err != nil {
		t.Fatalf("understand: %v", err)
	}
	if rw.calls != 1 || rt.texts[0] != "改写后" || u.RewrittenQuestion != "改写后" {
		t.Fatalf("rewrite not applied: calls=%d text=%q", rw.calls, rt.texts[0])
	}
}

func TestUnderstandNarrowsToNamedTables(t *testing.T) {
	rt := &stubRetriever{hits: []entity.RetrievalHit{{Position: 0}, {Position: 1}, {Position: 2}}}
	ex := &stubExtractor{res: &wfmodel.Extraction{
		RequiredTables: []string{"DB.C", "db.a", "db.missing"},
		Entities: []entity.Entity{
			{CanonicalTableID: "db.c", Confidence: 1},
			{Value: "浦发银行", Confidence: 2},
			{},
		},
	}}
	p := NewParser(&stubRewriter{}, rt, stubResolver{catalogEntries}, ex, 0, -1)

	u, err := p.Understand(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("understand: %v", err)
	}
	if len(ex.tables) != 3 {
		t.Fatalf("extractor saw %d candidates", len(ex.tables))
	}
	if len(u.RelevantTables) != 2 || u.RelevantTables[0].CanonicalID != "db.a" || u.RelevantTables[1].CanonicalID != "db.c" {
		t.Fatalf("narrowed tables = %+v", u.RelevantTables)
	}
	if len(u.Entities) != 2 || u.Entities[1].Confidence != 1 {
		t.Fatalf("entities = %+v", u.Entities)
	}
}

func TestNarrowKeepsAllWhenNothingMatches(t *testing.T) {
	got := Narrow(catalogEntries, []string{"db.zzz"})
	if len(got) != len(catalogEntries) {
		t.Fatalf("got %d tables", len(got))
	}
}

func TestUnderstandPropagatesIndexNotReady(t *testing.T) {
	rt := &stubRetriever{err: apperrors.ErrIndexNotReady}
	p := NewParser(&stubRewriter{}, rt, stubResolver{}, &stubExtractor{}, 0, -1)
	_, err := p.Understand(context.Background(), "q", nil)
	if !errors.Is(err, apperrors.ErrIndexNotReady) {
		t.Fatalf("expected IndexNotReady, got %v", err)
	}
}

func TestUnderstandPropagatesDataConsistencyError(t *testing.T) {
	rt := &stubRetriever{hits: []entity.RetrievalHit{{Position: 9}}}
	p := NewParser(&stubRewriter{}, rt, stubResolver{catalogEntries}, &stubExtractor{}, 0, -1)
	_, err := p.Understand(context.Background(), "q", nil)
	if !errors.Is(err, apperrors.ErrDataConsistencyError) {
		t.Fatalf("expected DataConsistencyError, got %v", err)
	}
}
