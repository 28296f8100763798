package retrieval

import (
	"context"
	"slices"
	"sync"

	"finqa-api/internal/domain/entity"
)

// FlatIndex 精确暴力检索的内存索引
//
// 构建后只读；重新 Build 会整体替换向量集合。
type FlatIndex struct {
	mu      sync.RWMutex
	vectors [][]float32
	dim     int
}

// NewFlatIndex 创建空索引
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{}
}

// Build 以输入顺序作为 position 建立索引，所有向量维度须与第一个一致
func (ix *FlatIndex) Build(_ context.Context, vectors [][]float32) error {
	dim := 0
	if len(vectors) > 0 {
		dim = len(vectors[0])
		if dim == 0 {
			return dimensionMismatch(1, 0)
		}
	}
	copied := make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return dimensionMismatch(dim, len(v))
		}
		copied[i] = append([]float32(nil), v...)
	}

	ix.mu.Lock()
	ix.vectors = copied
	ix.dim = dim
	ix.mu.Unlock()
	return nil
}

// Search 返回距离最近的 k 个命中
func (ix *FlatIndex) Search(_ context.Context, query []float32, k int) ([]entity.RetrievalHit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.vectors) == 0 {
		return nil, indexNotReady("flat index is empty")
	}
	if len(query) != ix.dim {
		return nil, dimensionMismatch(ix.dim, len(query))
	}
	if k <= 0 {
		return []entity.RetrievalHit{}, nil
	}

	type candidate struct {
		pos  int
		dist float64
	}
	cands := make([]candidate, len(ix.vectors))
	for i, v := range ix.vectors {
		cands[i] = candidate{pos: i, dist: SquaredL2(query, v)}
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		default:
			return a.pos - b.pos
		}
	})

	if k > len(cands) {
		k = len(cands)
	}
	hits := make([]entity.RetrievalHit, k)
	for i := 0; i < k; i++ {
		hits[i] = entity.RetrievalHit{Position: cands[i].pos, Score: ScoreFromDistance(cands[i].dist)}
	}
	return hits, nil
}

// Size 已索引向量数
func (ix *FlatIndex) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors)
}

// SquaredL2 平方欧氏距离，按 float64 累加
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// ScoreFromDistance 距离转相似度，取值 (0,1]
func ScoreFromDistance(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}

// FilterByThreshold 在排序之后过滤 score < threshold 的命中，保持原有顺序
func FilterByThreshold(hits []entity.RetrievalHit, threshold float64) []entity.RetrievalHit {
	out := make([]entity.RetrievalHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= threshold {
			out = append(out, h)
		}
	}
	return out
}
