// Package understanding 把问题转化为结构化理解：改写、检索候选表、抽取实体
package understanding

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/domain/entity"
	wfmodel "finqa-api/internal/workflow/model"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/metrics"
	"finqa-api/pkg/tracer"
)

// DefaultTopK 理解阶段的检索候选池大小
const DefaultTopK = 25

type Rewriter interface {
	Rewrite(ctx context.Context, question string, qctx *entity.QuestionContext) (string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, text string, k int, threshold float64) ([]entity.RetrievalHit, error)
}

type Resolver interface {
	Resolve(ctx context.Context, hits []entity.RetrievalHit) ([]entity.CatalogEntry, error)
}

type Extractor interface {
	Extract(ctx context.Context, question string, tables []entity.CatalogEntry) (*wfmodel.Extraction, error)
}

// Parser 组合改写、检索、解析与抽取
type Parser struct {
	rewriter  Rewriter
	retriever Retriever
	resolver  Resolver
	extractor Extractor

	topK      int
	threshold float64
}

// NewParser threshold<0 表示使用检索器的默认阈值
func NewParser(rewriter Rewriter, retriever Retriever, resolver Resolver, extractor Extractor, topK int, threshold float64) *Parser {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Parser{
		rewriter:  rewriter,
		retriever: retriever,
		resolver:  resolver,
		extractor: extractor,
		topK:      topK,
		threshold: threshold,
	}
}

// Understand 生成一次迭代的问题理解
//
// 上下文为空时不改写，问题原样进入检索。
func (p *Parser) Understand(ctx context.Context, question string, qctx *entity.QuestionContext) (*entity.Understanding, error) {
	ctx, span := tracer.Start(ctx, "understanding.Understand",
		trace.WithAttributes(attribute.Bool("qa.has_context", !qctx.Empty())))
	defer span.End()

	rewritten := question
	if !qctx.Empty() {
		start := time.Now()
		out, err := p.rewriter.Rewrite(ctx, question, qctx)
		metrics.StageDuration.WithLabelValues("rewrite").Observe(time.Since(start).Seconds())
		if err != nil {
			tracer.RecordError(span, err)
			return nil, err
		}
		rewritten = out
		logger.Debug(ctx, "question rewritten", "rewritten", rewritten)
	}

	start := time.Now()
	hits, err := p.retriever.Retrieve(ctx, rewritten, p.topK, p.threshold)
	metrics.StageDuration.WithLabelValues("retrieve").Observe(time.Since(start).Seconds())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	candidates, err := p.resolver.Resolve(ctx, hits)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	start = time.Now()
	extraction, err := p.extractor.Extract(ctx, rewritten, candidates)
	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(start).Seconds())
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if extraction == nil {
		extraction = &wfmodel.Extraction{}
	}

	tables := Narrow(candidates, extraction.RequiredTables)
	span.SetAttributes(
		attribute.Int("qa.candidates", len(candidates)),
		attribute.Int("qa.relevant_tables", len(tables)),
		attribute.Int("qa.entities", len(extraction.Entities)),
	)
	logger.Debug(ctx, "question understood",
		"candidates", len(candidates),
		"relevant_tables", len(tables),
		"entities", len(extraction.Entities),
	)
	return entity.NewUnderstanding(rewritten, extraction.Entities, tables), nil
}

// Narrow 保留模型指名的候选表（按检索顺序）；未指名或全部不在候选中时保留全部候选
func Narrow(candidates []entity.CatalogEntry, named []string) []entity.CatalogEntry {
	if len(named) == 0 {
		return candidates
	}
	want := make(map[string]struct{}, len(named))
	for _, id := range named {
		want[entity.CanonicalTableID(id)] = struct{}{}
	}
	out := make([]entity.CatalogEntry, 0, len(named))
	for _, c := range candidates {
		if _, ok := want[c.CanonicalID]; ok {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}
