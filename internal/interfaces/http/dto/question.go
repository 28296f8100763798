package dto

import (
	"time"

	"github.com/gin-gonic/gin"

	"finqa-api/internal/application/qa"
	"finqa-api/internal/domain/entity"
)

// MessagePayload 对话消息
type MessagePayload struct {
	Role    string `json:"role" binding:"required,oneof=system human assistant"`
	Content string `json:"content"`
}

// ContextPayload 调用方提供的对话上下文
type ContextPayload struct {
	History []MessagePayload `json:"history" binding:"dive"`
}

// ToEntity 转换为领域上下文
func (p *ContextPayload) ToEntity(dialogueID, questionID string) *entity.QuestionContext {
	if p == nil {
		return nil
	}
	out := &entity.QuestionContext{
		History: make([]entity.Message, 0, len(p.History)),
		Metadata: entity.ContextMetadata{
			DialogueID: dialogueID,
			QuestionID: questionID,
			TurnCount:  len(p.History) / 2,
		},
	}
	for _, m := range p.History {
		out.History = append(out.History, entity.Message{Role: entity.Role(m.Role), Content: m.Content})
	}
	return out
}

// AskQuestionRequest 提问请求
type AskQuestionRequest struct {
	QuestionID string          `json:"question_id,omitempty" binding:"max=128"`
	Question   string          `json:"question" binding:"required,max=2000"`
	Context    *ContextPayload `json:"context,omitempty"`
}

// AskQuestionResponse 提问响应
type AskQuestionResponse struct {
	QuestionID        string   `json:"question_id"`
	DialogueID        string   `json:"dialogue_id"`
	Answer            string   `json:"answer"`
	State             string   `json:"state"`
	Iterations        int      `json:"iterations"`
	SQL               string   `json:"sql,omitempty"`
	RowCount          int      `json:"row_count"`
	RewrittenQuestion string   `json:"rewritten_question,omitempty"`
	Tables            []string `json:"tables,omitempty"`
	RecordID          string   `json:"record_id,omitempty"`
	DurationMs        int64    `json:"duration_ms"`
}

// ToAskQuestionResponse 转换处理结果
func ToAskQuestionResponse(o *qa.Outcome) *AskQuestionResponse {
	if o == nil {
		return nil
	}
	resp := &AskQuestionResponse{
		QuestionID: o.QuestionID,
		DialogueID: o.DialogueID,
		Answer:     o.Answer,
		State:      string(o.State),
		Iterations: o.Iterations,
		SQL:        o.SQL,
		RowCount:   o.RowCount,
		RecordID:   o.RecordID,
		DurationMs: o.Duration.Milliseconds(),
	}
	if u := o.Understanding; u != nil {
		resp.RewrittenQuestion = u.RewrittenQuestion
		for _, t := range u.RelevantTables {
			resp.Tables = append(resp.Tables, t.CanonicalID)
		}
	}
	return resp
}

// QuestionRecordResponse 审计记录
type QuestionRecordResponse struct {
	ID                string `json:"id"`
	DialogueID        string `json:"dialogue_id"`
	QuestionID        string `json:"question_id"`
	Question          string `json:"question"`
	RewrittenQuestion string `json:"rewritten_question,omitempty"`
	SQL               string `json:"sql,omitempty"`
	Answer            string `json:"answer"`
	State             string `json:"state"`
	Iterations        int    `json:"iterations"`
	ErrorMessage      string `json:"error_message,omitempty"`
	DurationMs        int64  `json:"duration_ms"`
	CreatedAt         string `json:"created_at"`
}

// ToQuestionRecordResponse 转换审计记录
func ToQuestionRecordResponse(r *entity.QuestionRecord) *QuestionRecordResponse {
	return &QuestionRecordResponse{
		ID:                r.ID,
		DialogueID:        r.DialogueID,
		QuestionID:        r.QuestionID,
		Question:          r.Question,
		RewrittenQuestion: r.RewrittenQuestion,
		SQL:               r.SQL,
		Answer:            r.Answer,
		State:             string(r.State),
		Iterations:        r.Iterations,
		ErrorMessage:      r.ErrorMessage,
		DurationMs:        r.DurationMs,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
	}
}

// BindPagination 读取分页参数
func BindPagination(c *gin.Context) (page, pageSize int) {
	var q struct {
		Page     int `form:"page"`
		PageSize int `form:"page_size"`
	}
	_ = c.ShouldBindQuery(&q)
	return q.Page, q.PageSize
}
