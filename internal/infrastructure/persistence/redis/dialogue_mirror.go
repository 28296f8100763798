package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/internal/domain/entity"
	"finqa-api/internal/domain/repository"
)

// DialogueMirror 以 Redis List 镜像会话历史，每个会话一个键
type DialogueMirror struct {
	client *Client
	ttl    time.Duration
}

var _ repository.DialogueTurnRepository = (*DialogueMirror)(nil)

// NewDialogueMirror 创建会话镜像；ttl 为 0 表示不过期
func NewDialogueMirror(client *Client, ttl time.Duration) *DialogueMirror {
	return &DialogueMirror{client: client, ttl: ttl}
}

// DialogueKey 会话历史键
func DialogueKey(dialogueID string) string {
	return fmt.Sprintf("dialogue:%s:turns", dialogueID)
}

// Append 追加一轮并裁剪到最近 maxTurns 轮
func (m *DialogueMirror) Append(ctx context.Context, dialogueID string, turn entity.DialogueTurn, maxTurns int) error {
	key := DialogueKey(dialogueID)
	ctx, span := tracer.Start(ctx, "dialogue.Append",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal dialogue turn: %w", err)
	}

	pipe := m.client.rdb.TxPipeline()
	pipe.RPush(ctx, key, data)
	if maxTurns > 0 {
		pipe.LTrim(ctx, key, int64(-maxTurns), -1)
	}
	if m.ttl > 0 {
		pipe.Expire(ctx, key, m.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append dialogue turn: %w", err)
	}
	return nil
}

// List 按追加顺序返回最近 limit 轮
func (m *DialogueMirror) List(ctx context.Context, dialogueID string, limit int) ([]entity.DialogueTurn, error) {
	key := DialogueKey(dialogueID)
	ctx, span := tracer.Start(ctx, "dialogue.List",
		trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raw, err := m.client.rdb.LRange(ctx, key, start, -1).Result()
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list dialogue turns: %w", err)
	}
	return decodeTurns(raw)
}

func decodeTurns(raw []string) ([]entity.DialogueTurn, error) {
	turns := make([]entity.DialogueTurn, 0, len(raw))
	for i, s := range raw {
		var t entity.DialogueTurn
		if err := json.Unmarshal([]byte(s), &t); err != nil {
			return nil, fmt.Errorf("corrupt dialogue turn at %d: %w", i, err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
