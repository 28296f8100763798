// Package handler 提供 HTTP 请求处理器
package handler

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"finqa-api/internal/application/dialogue"
	"finqa-api/internal/application/qa"
	"finqa-api/internal/domain/entity"
	"finqa-api/internal/domain/repository"
	"finqa-api/internal/interfaces/http/dto"
	"finqa-api/pkg/logger"
)

// QuestionProcessor 单问题处理
type QuestionProcessor interface {
	ProcessQuestion(ctx context.Context, questionID, questionText string, opts ...qa.ProcessOption) (*qa.Outcome, error)
}

// QuestionHandler 问答处理器
type QuestionHandler struct {
	processor QuestionProcessor
	records   repository.QuestionRecordRepository
}

// NewQuestionHandler 创建问答处理器；records 为 nil 时记录查询返回 503
func NewQuestionHandler(processor QuestionProcessor, records repository.QuestionRecordRepository) *QuestionHandler {
	return &QuestionHandler{processor: processor, records: records}
}

// Ask 提交问题并同步返回回答
// @Summary 提问
// @Tags Questions
// @Accept json
// @Produce json
// @Param body body dto.AskQuestionRequest true "问题"
// @Success 200 {object} dto.Response[dto.AskQuestionResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 502 {object} dto.ErrorResponse
// @Router /v1/questions [post]
func (h *QuestionHandler) Ask(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AskQuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	questionID := req.QuestionID
	if questionID == "" {
		questionID = newDialogueID() + "-0"
	}

	var opts []qa.ProcessOption
	if req.Context != nil {
		opts = append(opts, qa.WithContext(req.Context.ToEntity(dialogue.DialogueID(questionID), questionID)))
	}

	outcome, err := h.processor.ProcessQuestion(ctx, questionID, req.Question, opts...)
	if err != nil {
		logger.Warn(ctx, "question processing failed", "question_id", questionID, "error", err)
		dto.AppError(c, err)
		return
	}

	dto.Success(c, dto.ToAskQuestionResponse(outcome))
}

// ListRecords 查询问题的处理记录
// @Summary 处理记录
// @Tags Questions
// @Produce json
// @Param question_id path string true "问题 ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[[]dto.QuestionRecordResponse]
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/questions/{question_id}/records [get]
func (h *QuestionHandler) ListRecords(c *gin.Context) {
	if !h.recordsEnabled(c) {
		return
	}
	h.listRecords(c, "question_id", c.Param("question_id"), h.records.ListByQuestionID)
}

// ListDialogueRecords 查询会话内全部问题的处理记录，按时间倒序
// @Summary 会话处理记录
// @Tags Dialogues
// @Produce json
// @Param id path string true "对话 ID"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[[]dto.QuestionRecordResponse]
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/dialogues/{id}/records [get]
func (h *QuestionHandler) ListDialogueRecords(c *gin.Context) {
	if !h.recordsEnabled(c) {
		return
	}
	h.listRecords(c, "dialogue_id", c.Param("id"), h.records.ListByDialogue)
}

type recordLister func(ctx context.Context, key string, pagination repository.Pagination) (*repository.PagedResult[*entity.QuestionRecord], error)

func (h *QuestionHandler) recordsEnabled(c *gin.Context) bool {
	if h.records == nil {
		dto.ServiceUnavailable(c, "question records disabled")
		return false
	}
	return true
}

func (h *QuestionHandler) listRecords(c *gin.Context, field, key string, list recordLister) {
	ctx := c.Request.Context()

	page, pageSize := dto.BindPagination(c)
	result, err := list(ctx, key, repository.NewPagination(page, pageSize))
	if err != nil {
		logger.Error(ctx, "failed to list question records", err, field, key)
		dto.AppError(c, err)
		return
	}

	items := make([]*dto.QuestionRecordResponse, 0, len(result.Items))
	for _, r := range result.Items {
		items = append(items, dto.ToQuestionRecordResponse(r))
	}
	dto.SuccessWithPage(c, items, dto.NewPageMeta(result.Page, result.PageSize, int(result.Total)))
}

// newDialogueID 生成不含 '-' 的对话 ID，保证 "<dialogue>-<n>" 能被正确切分
func newDialogueID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
