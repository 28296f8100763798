package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"finqa-api/internal/domain/entity"
	"finqa-api/internal/domain/repository"
	apperrors "finqa-api/pkg/errors"
)

// QuestionRecordRepository 问答审计记录仓储
type QuestionRecordRepository struct {
	db *gorm.DB
}

var _ repository.QuestionRecordRepository = (*QuestionRecordRepository)(nil)

func NewQuestionRecordRepository(client *Client) *QuestionRecordRepository {
	return &QuestionRecordRepository{db: client.db}
}

// NewQuestionRecordRepositoryFromDB 使用已打开的 GORM 连接
func NewQuestionRecordRepositoryFromDB(db *gorm.DB) *QuestionRecordRepository {
	return &QuestionRecordRepository{db: db}
}

func (r *QuestionRecordRepository) Create(ctx context.Context, record *entity.QuestionRecord) error {
	ctx, span := tracer.Start(ctx, "postgres.QuestionRecordRepository.Create")
	defer span.End()

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		span.RecordError(err)
		return apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to create question record")
	}
	return nil
}

func (r *QuestionRecordRepository) GetByID(ctx context.Context, id string) (*entity.QuestionRecord, error) {
	ctx, span := tracer.Start(ctx, "postgres.QuestionRecordRepository.GetByID")
	defer span.End()

	var record entity.QuestionRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrRecordNotFound.WithDetail(id)
		}
		span.RecordError(err)
		return nil, apperrors.Wrap(err, apperrors.CodeDatabaseError, "failed to get question record")
	}
	return &record, nil
}

func (r *QuestionRecordRepository) ListByQuestionID(ctx context.Context, questionID string, pagination repository.Pagination) (*repository.PagedResult[*entity.QuestionRecord], error) {
	ctx, span := tracer.Start(ctx, "postgres.QuestionRecordRepository.ListByQuestionID")
	defer span.End()
	return r.list(ctx, "question_id = ?", questionID, pagination)
}

func (r *QuestionRecordRepository) ListByDialogue(ctx context.Context, dialogueID string, pagination repository.Pagination) (*repository.PagedResult[*entity.QuestionRecord], error) {
	ctx, span := tracer.Start(ctx, "postgres.QuestionRecordRepository.ListByDialogue")
	defer span.End()
	return r.list(ctx, "dialogue_id = ?", dialogueID, pagination)
}

func (r *QuestionRecordRepository) list(ctx context.Context, cond string, arg any, pagination repository.Pagination) (*repository.PagedResult[*entity.QuestionRecord], error) {
	query := r.db.WithContext(ctx).Model(&entity.QuestionRecord{}).Where(cond, arg)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count question records: %w", err)
	}

	var records []*entity.QuestionRecord
	if err := query.Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit()).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list question records: %w", err)
	}

	return repository.NewPagedResult(records, total, pagination), nil
}
