// Package jobs 消费问题任务流并把每题结果发布到结果流
package jobs

import (
	"context"
	"fmt"

	"finqa-api/internal/application/qa"
	"finqa-api/internal/infrastructure/messaging"
	"finqa-api/pkg/logger"
)

// Processor 单问题处理
type Processor interface {
	ProcessQuestion(ctx context.Context, questionID, questionText string, opts ...qa.ProcessOption) (*qa.Outcome, error)
}

// Publisher 结果发布
type Publisher interface {
	PublishAnswered(ctx context.Context, dialogueID string, res *messaging.QuestionAnswered) (string, error)
}

// Handler 问题任务处理器
type Handler struct {
	processor Processor
	publisher Publisher
}

func NewHandler(processor Processor, publisher Publisher) *Handler {
	return &Handler{processor: processor, publisher: publisher}
}

// Register 注册到消费者
func (h *Handler) Register(c *messaging.Consumer) {
	c.RegisterHandler(messaging.TypeQuestionJob, h.Handle)
}

// Handle 顺序处理任务中的问题
//
// 单题失败写入结果的 error 字段后继续；仅在 ctx 取消时返回错误，使消息留在 pending 中等待重投。
func (h *Handler) Handle(ctx context.Context, msg *messaging.Message) error {
	var job messaging.QuestionJob
	if err := msg.UnmarshalPayload(&job); err != nil {
		logger.Error(ctx, "invalid question job payload", err, "message_id", msg.ID)
		return nil
	}
	if job.JobID == "" {
		job.JobID = msg.ID
	}
	ctx = logger.WithContext(ctx, logger.JobIDKey, job.JobID)

	for i, item := range job.Questions {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("job %s interrupted at question %d: %w", job.JobID, i, err)
		}

		res := &messaging.QuestionAnswered{JobID: job.JobID, QuestionID: item.QuestionID}
		outcome, err := h.processor.ProcessQuestion(ctx, item.QuestionID, item.Question)
		if outcome != nil {
			res.Answer = outcome.Answer
			res.State = string(outcome.State)
			res.Iterations = outcome.Iterations
		}
		if err != nil {
			res.Error = err.Error()
			if res.State == "" {
				res.State = string(qa.StateFailed)
			}
			logger.Warn(ctx, "question in job failed", "question_id", item.QuestionID, "error", err)
		}

		if _, err := h.publisher.PublishAnswered(ctx, job.DialogueID, res); err != nil {
			logger.Error(ctx, "failed to publish answer", err, "question_id", item.QuestionID)
		}
	}

	logger.Info(ctx, "question job finished", "questions", len(job.Questions))
	return nil
}
