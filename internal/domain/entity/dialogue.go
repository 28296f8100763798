package entity

import "time"

// DialogueTurn 一轮问答，追加后不可变
type DialogueTurn struct {
	QuestionID   string    `json:"question_id"`
	QuestionText string    `json:"question_text"`
	AnswerText   string    `json:"answer_text"`
	CreatedAt    time.Time `json:"created_at"`
}

// Dialogue 一个会话的有序历史
type Dialogue struct {
	DialogueID string         `json:"dialogue_id"`
	Turns      []DialogueTurn `json:"turns"`
}

// Message 上下文消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ContextMetadata 上下文元数据
type ContextMetadata struct {
	DialogueID string `json:"dialogue_id"`
	QuestionID string `json:"question_id"`
	TurnCount  int    `json:"turn_count"`
}

// QuestionContext 会话的只读投影，每次请求重新计算
type QuestionContext struct {
	History  []Message       `json:"history"`
	Metadata ContextMetadata `json:"metadata"`
}

// Empty 无历史
func (c *QuestionContext) Empty() bool {
	return c == nil || len(c.History) == 0
}

// Clone 深拷贝
func (c *QuestionContext) Clone() *QuestionContext {
	if c == nil {
		return &QuestionContext{}
	}
	return &QuestionContext{
		History:  append([]Message(nil), c.History...),
		Metadata: c.Metadata,
	}
}

// LastTurns 返回只保留最近 n 轮问答的副本，TurnCount 仍为累计轮数
func (c *QuestionContext) LastTurns(n int) *QuestionContext {
	out := c.Clone()
	if n < 0 {
		n = 0
	}
	if keep := 2 * n; len(out.History) > keep {
		out.History = out.History[len(out.History)-keep:]
	}
	return out
}

// WithTurns 返回追加了若干轮问答的副本（不写入存储）
func (c *QuestionContext) WithTurns(turns ...DialogueTurn) *QuestionContext {
	out := c.Clone()
	for _, t := range turns {
		out.History = append(out.History,
			Message{Role: RoleHuman, Content: t.QuestionText},
			Message{Role: RoleAssistant, Content: t.AnswerText},
		)
	}
	out.Metadata.TurnCount += len(turns)
	return out
}
