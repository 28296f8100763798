package repository

import (
	"context"

	"finqa-api/internal/domain/entity"
)

// QuestionRecordRepository 问题处理记录仓储
type QuestionRecordRepository interface {
	Create(ctx context.Context, record *entity.QuestionRecord) error
	GetByID(ctx context.Context, id string) (*entity.QuestionRecord, error)
	ListByQuestionID(ctx context.Context, questionID string, pagination Pagination) (*PagedResult[*entity.QuestionRecord], error)
	ListByDialogue(ctx context.Context, dialogueID string, pagination Pagination) (*PagedResult[*entity.QuestionRecord], error)
}
