package embedding

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"finqa-api/internal/config"
	"finqa-api/pkg/retry"
)

// NewEinoEmbedder 创建基于 Eino OpenAI 适配器的 Embedder
func NewEinoEmbedder(ctx context.Context, cfg *config.EmbeddingConfig) (embedding.Embedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}

	var dims *int
	if cfg.Dimension > 0 {
		dims = &cfg.Dimension
	}
	embedder, err := openai.NewEmbedder(ctx, &openai.EmbeddingConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.Endpoint,
		Model:      cfg.Model,
		Dimensions: dims,
		Timeout:    cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino embedder: %w", err)
	}
	return embedder, nil
}

// New 按 provider 创建 Embedder：http 使用自建服务，其余走 OpenAI 兼容接口
func New(ctx context.Context, cfg *config.EmbeddingConfig, policy retry.Policy) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "http":
		return NewClient(cfg, policy), nil
	default:
		inner, err := NewEinoEmbedder(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &retrying{inner: inner, policy: policy}, nil
	}
}

// retrying 为 Eino Embedder 加上重试
type retrying struct {
	inner  embedding.Embedder
	policy retry.Policy
}

func (r *retrying) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	return retry.Do(ctx, r.policy, "embedding.openai", func(ctx context.Context) ([][]float64, error) {
		return r.inner.EmbedStrings(ctx, texts, opts...)
	})
}
