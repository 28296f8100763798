package catalog

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/domain/entity"
	apperrors "finqa-api/pkg/errors"
	"finqa-api/pkg/logger"
	"finqa-api/pkg/tracer"
)

// Resolver 将检索命中映射回目录条目
type Resolver struct {
	catalog *Catalog
	source  DictionarySource
}

// NewResolver source 可为 nil，此时只使用加载时的展示信息
func NewResolver(catalog *Catalog, source DictionarySource) *Resolver {
	return &Resolver{catalog: catalog, source: source}
}

// Catalog 底层目录
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve 保持命中顺序，按 canonical_id 去重并保留排名最靠前的一次
//
// position 超出目录范围说明索引与目录不一致，返回 DataConsistencyError。
// 展示名称与描述每次都从来源重新读取，不做跨调用缓存。
func (r *Resolver) Resolve(ctx context.Context, hits []entity.RetrievalHit) ([]entity.CatalogEntry, error) {
	ctx, span := tracer.Start(ctx, "catalog.Resolve",
		trace.WithAttributes(attribute.Int("catalog.hits", len(hits))))
	defer span.End()

	out := make([]entity.CatalogEntry, 0, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		e, ok := r.catalog.At(h.Position)
		if !ok {
			err := apperrors.Newf(apperrors.CodeDataConsistencyError,
				"hit position %d outside catalog of size %d", h.Position, r.catalog.Size())
			tracer.RecordError(span, err)
			return nil, err
		}
		if _, dup := seen[e.CanonicalID]; dup {
			continue
		}
		seen[e.CanonicalID] = struct{}{}
		out = append(out, r.refresh(ctx, e))
	}

	span.SetAttributes(attribute.Int("catalog.resolved", len(out)))
	return out, nil
}

func (r *Resolver) refresh(ctx context.Context, e entity.CatalogEntry) entity.CatalogEntry {
	if r.source == nil {
		return e
	}
	latest, ok, err := r.source.Lookup(ctx, e.CanonicalID)
	if err != nil {
		logger.Warn(ctx, "failed to refresh catalog display metadata",
			"canonical_id", e.CanonicalID,
			"error", err.Error(),
		)
		return e
	}
	if !ok {
		return e
	}
	return e.WithDisplay(latest.DisplayNameLocal, latest.DisplayNameExternal, latest.Description)
}
