// Package messaging 提供基于 Redis Stream 的问题任务队列
package messaging

import (
	"encoding/json"
	"time"
)

// 消息类型
const (
	TypeQuestionJob      = "question_job"
	TypeQuestionAnswered = "question_answered"
)

// Message 消息结构
type Message struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	DialogueID string            `json:"dialogue_id,omitempty"`
	Payload    json.RawMessage   `json:"payload"`
	Metadata   map[string]string `json:"metadata"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewMessage 创建新消息
func NewMessage(id, msgType, dialogueID string, payload any) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:         id,
		Type:       msgType,
		DialogueID: dialogueID,
		Payload:    payloadBytes,
		Metadata:   make(map[string]string),
		CreatedAt:  time.Now(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// GetMetadata 获取元数据
func (m *Message) GetMetadata(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// Stream 流定义
type Stream string

const (
	StreamQuestionSubmit   Stream = "stream:questions:submit"
	StreamQuestionAnswered Stream = "stream:questions:answered"
)

// DLQStream 获取对应的死信队列流名称
func (s Stream) DLQStream() string {
	return "dlq:" + string(s)
}

// ConsumerGroup 消费者组定义
type ConsumerGroup string

const (
	ConsumerGroupQAWorker ConsumerGroup = "cg-qa-worker"
)

// WithPrefix 加上配置的消费者组前缀
func (g ConsumerGroup) WithPrefix(prefix string) ConsumerGroup {
	if prefix == "" {
		return g
	}
	return ConsumerGroup(prefix + string(g))
}

// QuestionJob 一个对话下按顺序处理的问题
type QuestionJob struct {
	JobID      string    `json:"job_id"`
	DialogueID string    `json:"dialogue_id"`
	Questions  []JobItem `json:"questions"`
}

// JobItem 任务中的单个问题
type JobItem struct {
	QuestionID string `json:"question_id"`
	Question   string `json:"question"`
}

// QuestionAnswered 单个问题处理结果
type QuestionAnswered struct {
	JobID      string `json:"job_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
	State      string `json:"state"`
	Iterations int    `json:"iterations"`
	Error      string `json:"error,omitempty"`
}

// BackoffConfig 退避配置
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoffConfig 默认退避配置
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    time.Second,
		Max:        time.Minute,
		Multiplier: 2,
	}
}

// CalculateBackoff 计算退避时间
func (c BackoffConfig) CalculateBackoff(retryCount int) time.Duration {
	backoff := c.Initial
	for i := 0; i < retryCount; i++ {
		backoff = time.Duration(float64(backoff) * c.Multiplier)
		if backoff > c.Max {
			backoff = c.Max
			break
		}
	}
	return backoff
}
