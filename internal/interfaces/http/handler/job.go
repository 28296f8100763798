package handler

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"finqa-api/internal/infrastructure/messaging"
	"finqa-api/internal/interfaces/http/dto"
	"finqa-api/pkg/logger"
)

// JobPublisher 问题任务发布
type JobPublisher interface {
	PublishQuestionJob(ctx context.Context, job *messaging.QuestionJob) (string, error)
}

// JobHandler 异步任务处理器
type JobHandler struct {
	publisher JobPublisher
}

// NewJobHandler 创建任务处理器；publisher 为 nil 时提交返回 503
func NewJobHandler(publisher JobPublisher) *JobHandler {
	return &JobHandler{publisher: publisher}
}

// SubmitQuestions 将同一对话的一组问题投递到任务流
// @Summary 提交问题任务
// @Tags Jobs
// @Accept json
// @Produce json
// @Param body body dto.SubmitJobRequest true "问题列表"
// @Success 202 {object} dto.Response[dto.SubmitJobResponse]
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Router /v1/jobs/questions [post]
func (h *JobHandler) SubmitQuestions(c *gin.Context) {
	if h.publisher == nil {
		dto.ServiceUnavailable(c, "job queue disabled")
		return
	}
	ctx := c.Request.Context()

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	dialogueID := req.DialogueID
	if dialogueID == "" {
		dialogueID = newDialogueID()
	}
	job := &messaging.QuestionJob{
		JobID:      uuid.NewString(),
		DialogueID: dialogueID,
		Questions:  make([]messaging.JobItem, 0, len(req.Questions)),
	}
	ids := make([]string, 0, len(req.Questions))
	for i, q := range req.Questions {
		id := q.QuestionID
		if id == "" {
			id = fmt.Sprintf("%s-%d", dialogueID, i)
		}
		job.Questions = append(job.Questions, messaging.JobItem{QuestionID: id, Question: q.Question})
		ids = append(ids, id)
	}

	streamID, err := h.publisher.PublishQuestionJob(ctx, job)
	if err != nil {
		logger.Error(ctx, "failed to publish question job", err, "job_id", job.JobID)
		dto.ServiceUnavailable(c, "failed to enqueue job")
		return
	}

	dto.Accepted(c, &dto.SubmitJobResponse{
		JobID:      job.JobID,
		DialogueID: dialogueID,
		StreamID:   streamID,
		Questions:  ids,
	})
}
