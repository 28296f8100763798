package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"finqa-api/internal/domain/entity"
	"finqa-api/internal/interfaces/http/dto"
)

// ContextReader 读取对话上下文窗口
type ContextReader interface {
	GetContext(ctx context.Context, questionID string) (*entity.QuestionContext, error)
}

// DialogueHandler 对话处理器
type DialogueHandler struct {
	store ContextReader
}

func NewDialogueHandler(store ContextReader) *DialogueHandler {
	return &DialogueHandler{store: store}
}

// GetContext 返回对话最近窗口
// @Summary 对话上下文
// @Tags Dialogues
// @Produce json
// @Param id path string true "对话 ID"
// @Success 200 {object} dto.Response[dto.DialogueContextResponse]
// @Router /v1/dialogues/{id}/context [get]
func (h *DialogueHandler) GetContext(c *gin.Context) {
	qctx, err := h.store.GetContext(c.Request.Context(), c.Param("id"))
	if err != nil {
		dto.AppError(c, err)
		return
	}
	dto.Success(c, dto.ToDialogueContextResponse(qctx))
}
