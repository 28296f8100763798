package service

import (
	"context"
	"strings"
)

type llmCtxKey string

const (
	llmCtxKeyStage    llmCtxKey = "llm_stage"
	llmCtxKeyProvider llmCtxKey = "llm_provider"
)

// 问答流程中调用生成式服务的阶段
const (
	StageRewrite = "rewrite"
	StageExtract = "extract"
	StageSQL     = "sql"
	StageAnswer  = "answer"
)

// WithStage 标记当前 LLM 调用所处阶段，供 callbacks 打标签
func WithStage(ctx context.Context, stage string) context.Context {
	if ctx == nil {
		return nil
	}
	s := strings.TrimSpace(stage)
	if s == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyStage, s)
}

func WithProvider(ctx context.Context, provider string) context.Context {
	if ctx == nil {
		return nil
	}
	p := strings.TrimSpace(provider)
	if p == "" {
		return ctx
	}
	return context.WithValue(ctx, llmCtxKeyProvider, p)
}

func WithStageProvider(ctx context.Context, stage, provider string) context.Context {
	return WithProvider(WithStage(ctx, stage), provider)
}

func StageFromContext(ctx context.Context) string {
	return valueOrUnknown(ctx, llmCtxKeyStage)
}

func ProviderFromContext(ctx context.Context) string {
	return valueOrUnknown(ctx, llmCtxKeyProvider)
}

func valueOrUnknown(ctx context.Context, key llmCtxKey) string {
	if ctx == nil {
		return "unknown"
	}
	s, ok := ctx.Value(key).(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return strings.TrimSpace(s)
}
