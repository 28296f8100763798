package entity

import (
	"encoding/json"
	"time"
)

// QuestionState 问题处理的终止状态
type QuestionState string

const (
	QuestionStateDone    QuestionState = "done"
	QuestionStateAborted QuestionState = "aborted"
	QuestionStateFailed  QuestionState = "failed"
)

// QuestionRecord 每次 ProcessQuestion 的审计记录
type QuestionRecord struct {
	ID                string          `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	DialogueID        string          `json:"dialogue_id" gorm:"type:varchar(128);index;not null"`
	QuestionID        string          `json:"question_id" gorm:"type:varchar(128);index;not null"`
	Question          string          `json:"question" gorm:"type:text;not null"`
	RewrittenQuestion string          `json:"rewritten_question" gorm:"type:text"`
	SQL               string          `json:"sql" gorm:"type:text"`
	Answer            string          `json:"answer" gorm:"type:text"`
	State             QuestionState   `json:"state" gorm:"type:varchar(16);not null"`
	Iterations        int             `json:"iterations" gorm:"not null;default:0"`
	Tables            json.RawMessage `json:"tables,omitempty" gorm:"type:jsonb"`
	ErrorMessage      string          `json:"error_message,omitempty" gorm:"type:text"`
	DurationMs        int64           `json:"duration_ms"`
	CreatedAt         time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (QuestionRecord) TableName() string {
	return "question_records"
}

// NewQuestionRecord 创建记录
func NewQuestionRecord(dialogueID, questionID, question string) *QuestionRecord {
	return &QuestionRecord{
		DialogueID: dialogueID,
		QuestionID: questionID,
		Question:   question,
		CreatedAt:  time.Now(),
	}
}
