package retrieval

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/tracer"
)

const defaultEmbeddingBatch = 32

// Indexer 将目录条目编码并写入索引
type Indexer struct {
	embedder embedding.Embedder
	index    Index

	embeddingBatchSize int
}

func NewIndexer(embedder embedding.Embedder, index Index, embeddingBatchSize int) *Indexer {
	bs := embeddingBatchSize
	if bs <= 0 {
		bs = defaultEmbeddingBatch
	}
	return &Indexer{
		embedder:           embedder,
		index:              index,
		embeddingBatchSize: bs,
	}
}

func (i *Indexer) Enabled() bool {
	return i != nil && i.embedder != nil && i.index != nil
}

// BuildFromCatalog 按目录顺序编码每个条目的表示文本并构建索引
//
// 编码结果数量与目录大小不一致时拒绝构建，避免 position 错位。
func (i *Indexer) BuildFromCatalog(ctx context.Context, corpus Corpus) error {
	if !i.Enabled() {
		return ErrEncoderDisabled
	}
	entries := corpus.Entries()

	ctx, span := tracer.Start(ctx, "retrieval.BuildFromCatalog",
		trace.WithAttributes(attribute.Int("catalog.size", len(entries))))
	defer span.End()

	texts := make([]string, len(entries))
	for idx, e := range entries {
		texts[idx] = e.Representation()
	}

	start := time.Now()
	vectors, err := i.embedBatch(ctx, texts)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	if len(vectors) != len(entries) {
		err := apperrors.Newf(apperrors.CodeDataConsistencyError,
			"encoded %d vectors for %d catalog entries", len(vectors), len(entries))
		tracer.RecordError(span, err)
		return err
	}
	if err := i.index.Build(ctx, vectors); err != nil {
		tracer.RecordError(span, err)
		return err
	}

	logger.Info(ctx, "similarity index built",
		"entries", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (i *Indexer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += i.embeddingBatchSize {
		end := start + i.embeddingBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := embedStrings(ctx, i.embedder, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}
