package catalog

import (
	"context"

	"finqa-api/internal/domain/entity"
)

// HitRetriever 向量检索
type HitRetriever interface {
	Retrieve(ctx context.Context, text string, k int, threshold float64) ([]entity.RetrievalHit, error)
}

// Match 解析后的库表及其最佳命中分数
type Match struct {
	Entry entity.CatalogEntry `json:"entry"`
	Score float64             `json:"score"`
}

// Searcher 检索加解析，供对外的库表搜索使用
type Searcher struct {
	retriever HitRetriever
	resolver  *Resolver
}

func NewSearcher(retriever HitRetriever, resolver *Resolver) *Searcher {
	return &Searcher{retriever: retriever, resolver: resolver}
}

// Search 返回去重后的库表，分数取该表排名最靠前的命中
func (s *Searcher) Search(ctx context.Context, text string, k int, threshold float64) ([]Match, error) {
	hits, err := s.retriever.Retrieve(ctx, text, k, threshold)
	if err != nil {
		return nil, err
	}
	entries, err := s.resolver.Resolve(ctx, hits)
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		e, ok := s.resolver.Catalog().At(h.Position)
		if !ok {
			continue
		}
		if _, seen := scores[e.CanonicalID]; !seen {
			scores[e.CanonicalID] = h.Score
		}
	}

	out := make([]Match, 0, len(entries))
	for _, e := range entries {
		out = append(out, Match{Entry: e, Score: scores[e.CanonicalID]})
	}
	return out, nil
}
