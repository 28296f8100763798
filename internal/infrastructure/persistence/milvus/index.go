package milvus

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/application/retrieval"
	domain "finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
)

const insertBatchSize = 1000

// Index 以 Milvus 集合保存目录向量，进程重启后可通过 Attach 直接复用
type Index struct {
	client     *Client
	collection string
	spec       *indexSpec

	mu          sync.RWMutex
	size        int
	dim         int
	fingerprint string
}

var _ retrieval.Index = (*Index)(nil)

// NewIndex 创建 Milvus 索引
func NewIndex(c *Client) (*Index, error) {
	spec, err := newIndexSpec(c.config)
	if err != nil {
		return nil, err
	}
	return &Index{
		client:     c,
		collection: c.CollectionName(CollectionCatalogTables),
		spec:       spec,
	}, nil
}

// WithFingerprint 设置下一次 Build 写入集合描述的目录指纹
func (ix *Index) WithFingerprint(fingerprint string) *Index {
	ix.mu.Lock()
	ix.fingerprint = fingerprint
	ix.mu.Unlock()
	return ix
}

// Fingerprint 集合对应的目录指纹；Attach 后为集合描述中记录的值
func (ix *Index) Fingerprint() string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.fingerprint
}

// Build 重建集合：删除旧集合，按 position=i 写入全部向量并建立索引
func (ix *Index) Build(ctx context.Context, vectors [][]float32) error {
	ctx, span := tracer.Start(ctx, "milvus.Build",
		trace.WithAttributes(
			attribute.String("collection", ix.collection),
			attribute.Int("count", len(vectors)),
		))
	defer span.End()

	if len(vectors) == 0 {
		ix.reset()
		return nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return apperrors.Newf(apperrors.CodeInvalidParam, "vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}

	mc := ix.client.milvus
	if exists, err := mc.HasCollection(ctx, ix.collection); err != nil {
		span.RecordError(err)
		return vectorDBError(err, "check collection")
	} else if exists {
		if err := mc.DropCollection(ctx, ix.collection); err != nil {
			span.RecordError(err)
			return vectorDBError(err, "drop collection")
		}
	}
	ix.reset()

	if err := mc.CreateCollection(ctx, CatalogSchema(ix.collection, dim, ix.Fingerprint()), entity.DefaultShardNumber); err != nil {
		span.RecordError(err)
		return vectorDBError(err, "create collection")
	}

	for start := 0; start < len(vectors); start += insertBatchSize {
		end := min(start+insertBatchSize, len(vectors))
		positions := make([]int64, 0, end-start)
		for i := start; i < end; i++ {
			positions = append(positions, int64(i))
		}
		_, err := mc.Insert(ctx, ix.collection, "",
			entity.NewColumnInt64(FieldPosition, positions),
			entity.NewColumnFloatVector(FieldVector, dim, vectors[start:end]),
		)
		if err != nil {
			span.RecordError(err)
			return vectorDBError(err, "insert vectors")
		}
	}
	if err := mc.Flush(ctx, ix.collection, false); err != nil {
		span.RecordError(err)
		return vectorDBError(err, "flush collection")
	}
	if err := mc.CreateIndex(ctx, ix.collection, FieldVector, ix.spec.index, false); err != nil {
		span.RecordError(err)
		return vectorDBError(err, "create index")
	}
	if err := mc.LoadCollection(ctx, ix.collection, false); err != nil {
		span.RecordError(err)
		return vectorDBError(err, "load collection")
	}

	ix.mu.Lock()
	ix.size, ix.dim = len(vectors), dim
	ix.mu.Unlock()
	logger.Info(ctx, "milvus index built", "collection", ix.collection, "size", len(vectors), "dim", dim)
	return nil
}

// Attach 加载已存在的集合并读取规模与维度；集合不存在时保持未就绪
func (ix *Index) Attach(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "milvus.Attach",
		trace.WithAttributes(attribute.String("collection", ix.collection)))
	defer span.End()

	mc := ix.client.milvus
	exists, err := mc.HasCollection(ctx, ix.collection)
	if err != nil {
		return false, vectorDBError(err, "check collection")
	}
	if !exists {
		return false, nil
	}

	coll, err := mc.DescribeCollection(ctx, ix.collection)
	if err != nil {
		return false, vectorDBError(err, "describe collection")
	}
	dim, err := vectorDim(coll.Schema)
	if err != nil {
		return false, err
	}
	if err := mc.LoadCollection(ctx, ix.collection, false); err != nil {
		return false, vectorDBError(err, "load collection")
	}
	stats, err := mc.GetCollectionStatistics(ctx, ix.collection)
	if err != nil {
		return false, vectorDBError(err, "collection statistics")
	}
	size, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return false, fmt.Errorf("invalid row_count %q: %w", stats["row_count"], err)
	}

	ix.mu.Lock()
	ix.size, ix.dim = size, dim
	ix.fingerprint = fingerprintFromDescription(coll.Schema.Description)
	ix.mu.Unlock()
	return size > 0, nil
}

// Search 按平方欧氏距离返回最近的 k 个 position
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]domain.RetrievalHit, error) {
	ix.mu.RLock()
	size, dim := ix.size, ix.dim
	ix.mu.RUnlock()

	if size == 0 {
		return nil, apperrors.ErrIndexNotReady.WithDetail("milvus collection is empty or not built")
	}
	if len(query) != dim {
		return nil, apperrors.Newf(apperrors.CodeInvalidParam, "vector dimension mismatch: want %d, got %d", dim, len(query))
	}
	if k <= 0 {
		return []domain.RetrievalHit{}, nil
	}
	k = min(k, size)

	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.String("collection", ix.collection),
			attribute.Int("top_k", k),
		))
	defer span.End()

	start := time.Now()
	results, err := ix.client.milvus.Search(ctx,
		ix.collection,
		nil,
		"",
		[]string{FieldPosition},
		[]entity.Vector{entity.FloatVector(query)},
		FieldVector,
		entity.L2,
		k,
		ix.spec.search,
	)
	metrics.MilvusSearchDuration.WithLabelValues(CollectionCatalogTables).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return nil, vectorDBError(err, "search")
	}

	hits, err := hitsFromResults(results)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("result_count", len(hits)))
	return hits, nil
}

// Size 已写入的向量数
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.size
}

func (ix *Index) reset() {
	ix.mu.Lock()
	ix.size, ix.dim = 0, 0
	ix.mu.Unlock()
}

// hitsFromResults 把 Milvus 的 L2 分数（平方距离）换算为命中，同距离按 position 升序
func hitsFromResults(results []client.SearchResult) ([]domain.RetrievalHit, error) {
	type scored struct {
		pos  int
		dist float64
	}
	var all []scored
	for _, r := range results {
		ids, ok := r.IDs.(*entity.ColumnInt64)
		if !ok {
			return nil, apperrors.New(apperrors.CodeVectorDBError, "unexpected primary key column type")
		}
		data := ids.Data()
		if len(data) < r.ResultCount || len(r.Scores) < r.ResultCount {
			return nil, apperrors.New(apperrors.CodeVectorDBError, "truncated search result")
		}
		for i := 0; i < r.ResultCount; i++ {
			all = append(all, scored{pos: int(data[i]), dist: float64(r.Scores[i])})
		}
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		default:
			return a.pos - b.pos
		}
	})

	hits := make([]domain.RetrievalHit, 0, len(all))
	for _, s := range all {
		hits = append(hits, domain.RetrievalHit{Position: s.pos, Score: retrieval.ScoreFromDistance(s.dist)})
	}
	return hits, nil
}

func vectorDim(schema *entity.Schema) (int, error) {
	if schema == nil {
		return 0, apperrors.New(apperrors.CodeVectorDBError, "collection schema missing")
	}
	for _, f := range schema.Fields {
		if f.Name == FieldVector {
			return strconv.Atoi(f.TypeParams["dim"])
		}
	}
	return 0, apperrors.New(apperrors.CodeVectorDBError, "collection has no vector field")
}

func vectorDBError(err error, op string) error {
	return apperrors.Wrap(err, apperrors.CodeVectorDBError, "milvus "+op+" failed")
}
