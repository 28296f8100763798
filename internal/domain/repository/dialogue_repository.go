package repository

import (
	"context"

	"finqa-api/internal/domain/entity"
)

// DialogueTurnRepository 会话历史的外部镜像（跨进程重启保留上下文）
type DialogueTurnRepository interface {
	// Append 追加一轮并把该会话裁剪到最近 maxTurns 轮
	Append(ctx context.Context, dialogueID string, turn entity.DialogueTurn, maxTurns int) error
	// List 返回最近 limit 轮，按追加顺序；limit <= 0 表示全部
	List(ctx context.Context, dialogueID string, limit int) ([]entity.DialogueTurn, error)
}
