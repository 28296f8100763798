package port

import (
	"context"

	"finqa-api/internal/domain/entity"
)

// TextGenerator 生成式服务的最小依赖（port）。
// history 为按时间顺序排列的对话消息，位于 system 与 user 之间。
// 失败（含重试耗尽）返回 GenerationError。
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, history []entity.Message) (string, error)
}
