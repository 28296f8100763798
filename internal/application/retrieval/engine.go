package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
	"finqa-api/pkg/tracer"
)

// Retriever 将文本编码后在索引中检索，并按阈值过滤
type Retriever struct {
	embedder embedding.Embedder
	index    Index
	opts     Options
	backend  string
}

// NewRetriever 创建检索器；backend 仅用于指标标签
func NewRetriever(embedder embedding.Embedder, index Index, opts Options, backend string) *Retriever {
	if backend == "" {
		backend = "flat"
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		opts:     opts.withDefaults(),
		backend:  backend,
	}
}

// Enabled 编码器与索引均已配置
func (r *Retriever) Enabled() bool {
	return r != nil && r.embedder != nil && r.index != nil
}

// Ready 索引已构建
func (r *Retriever) Ready() bool {
	return r.Enabled() && r.index.Size() > 0
}

// Index 底层索引
func (r *Retriever) Index() Index {
	return r.index
}

// Defaults 默认检索参数
func (r *Retriever) Defaults() Options {
	return r.opts
}

// Retrieve 检索与 text 最相近的 k 个目录位置，k<=0 或 threshold<0 时使用默认值
//
// 阈值过滤在排序之后执行，k 指过滤前的候选池大小。
func (r *Retriever) Retrieve(ctx context.Context, text string, k int, threshold float64) ([]entity.RetrievalHit, error) {
	if !r.Enabled() {
		return nil, ErrEncoderDisabled
	}
	if k <= 0 {
		k = r.opts.TopK
	}
	if threshold < 0 {
		threshold = r.opts.Threshold
	}

	ctx, span := tracer.Start(ctx, "retrieval.Retrieve",
		trace.WithAttributes(
			attribute.Int("retrieval.top_k", k),
			attribute.Float64("retrieval.threshold", threshold),
			attribute.String("retrieval.backend", r.backend),
		))
	defer span.End()

	start := time.Now()
	vec, err := r.EmbedQuery(ctx, text)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	hits, err := r.index.Search(ctx, vec, k)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	filtered := FilterByThreshold(hits, threshold)
	metrics.RetrievalHits.WithLabelValues(r.backend).Observe(float64(len(filtered)))
	span.SetAttributes(
		attribute.Int("retrieval.candidates", len(hits)),
		attribute.Int("retrieval.hits", len(filtered)),
	)

	if len(filtered) == 0 && len(hits) > 0 {
		metrics.RetrievalFallbackTotal.Inc()
		switch r.opts.ZeroHitPolicy {
		case ZeroHitFail:
			logger.Warn(ctx, "no retrieval hit above threshold",
				"threshold", threshold,
				"candidates", len(hits),
				"best_score", hits[0].Score,
			)
			return []entity.RetrievalHit{}, nil
		default:
			logger.Debug(ctx, "no retrieval hit above threshold, falling back to unfiltered top-k",
				"threshold", threshold,
				"candidates", len(hits),
			)
			filtered = hits
		}
	}

	logger.Debug(ctx, "retrieval completed",
		"hits", len(filtered),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return filtered, nil
}

// EmbedQuery 编码单条查询文本
func (r *Retriever) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if r == nil || r.embedder == nil {
		return nil, ErrEncoderDisabled
	}
	q := strings.TrimSpace(text)
	if q == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "query text is empty")
	}
	vectors, err := embedStrings(ctx, r.embedder, []string{q})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, apperrors.New(apperrors.CodeEmbeddingFailed, "empty embedding result")
	}
	return vectors[0], nil
}

func embedStrings(ctx context.Context, embedder embedding.Embedder, texts []string) ([][]float32, error) {
	v64, err := embedder.EmbedStrings(ctx, texts)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.CodeEmbeddingFailed, "embedding failed")
	}
	out := make([][]float32, 0, len(v64))
	for _, vec := range v64 {
		f32 := make([]float32, len(vec))
		for i, x := range vec {
			f32[i] = float32(x)
		}
		out = append(out, f32)
	}
	return out, nil
}
