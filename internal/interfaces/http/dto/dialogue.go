package dto

import "finqa-api/internal/domain/entity"

// DialogueContextResponse 对话上下文窗口
type DialogueContextResponse struct {
	DialogueID string           `json:"dialogue_id"`
	TurnCount  int              `json:"turn_count"`
	History    []MessagePayload `json:"history"`
}

// ToDialogueContextResponse 转换上下文
func ToDialogueContextResponse(qctx *entity.QuestionContext) *DialogueContextResponse {
	resp := &DialogueContextResponse{History: []MessagePayload{}}
	if qctx == nil {
		return resp
	}
	resp.DialogueID = qctx.Metadata.DialogueID
	resp.TurnCount = qctx.Metadata.TurnCount
	for _, m := range qctx.History {
		resp.History = append(resp.History, MessagePayload{Role: string(m.Role), Content: m.Content})
	}
	return resp
}
