package retrieval

import (
	"context"

	"finqa-api/internal/domain/entity"
)

// Index 定义应用层对"相似度索引"的最小依赖（port）。
// 默认实现为进程内 FlatIndex；基础设施层可提供 Milvus 实现以支持重启后复用。
//
// 约定：
//   - Build 为第 i 个输入向量分配 position=i，该映射对外可见，Resolver 依赖它回查目录；
//   - Search 按平方欧氏距离升序返回前 k 个命中，score=1/(1+d)，同分按 position 升序；
//   - 未构建或为空时 Search 返回 IndexNotReady，不得返回空结果。
type Index interface {
	Build(ctx context.Context, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]entity.RetrievalHit, error)
	Size() int
}

// Corpus 可被编码进索引的条目集合，顺序即 position
type Corpus interface {
	Entries() []entity.CatalogEntry
}

// UnavailableIndex 内容与目录不一致的索引：Size 为 0，Search 返回 IndexNotReady
type UnavailableIndex struct {
	Reason string
}

var _ Index = UnavailableIndex{}

// Build 不可在进程内修复，需要重新运行索引构建
func (u UnavailableIndex) Build(context.Context, [][]float32) error {
	return indexNotReady(u.Reason)
}

func (u UnavailableIndex) Search(context.Context, []float32, int) ([]entity.RetrievalHit, error) {
	return nil, indexNotReady(u.Reason)
}

func (u UnavailableIndex) Size() int { return 0 }
