package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"finqa-api/pkg/logger"
)

var tracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client redis.UniversalClient
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client redis.UniversalClient, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := tracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishQuestionJob 发布问题任务
func (p *Producer) PublishQuestionJob(ctx context.Context, job *QuestionJob) (string, error) {
	msg, err := NewMessage(job.JobID, TypeQuestionJob, job.DialogueID, job)
	if err != nil {
		return "", err
	}
	propagate(ctx, msg)
	return p.Publish(ctx, StreamQuestionSubmit, msg)
}

// PublishAnswered 发布单题结果
func (p *Producer) PublishAnswered(ctx context.Context, dialogueID string, res *QuestionAnswered) (string, error) {
	msg, err := NewMessage(res.QuestionID, TypeQuestionAnswered, dialogueID, res)
	if err != nil {
		return "", err
	}
	msg.SetMetadata("job_id", res.JobID)
	propagate(ctx, msg)
	return p.Publish(ctx, StreamQuestionAnswered, msg)
}

func propagate(ctx context.Context, msg *Message) {
	if v, ok := ctx.Value(logger.RequestIDKey).(string); ok && v != "" {
		msg.SetMetadata("request_id", v)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.SetMetadata("trace_id", sc.TraceID().String())
	}
}
