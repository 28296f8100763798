package dto

// JobQuestion 任务中的单个问题
type JobQuestion struct {
	QuestionID string `json:"question_id,omitempty" binding:"max=128"`
	Question   string `json:"question" binding:"required,max=2000"`
}

// SubmitJobRequest 提交问题任务
type SubmitJobRequest struct {
	DialogueID string        `json:"dialogue_id,omitempty" binding:"max=128"`
	Questions  []JobQuestion `json:"questions" binding:"required,min=1,max=100,dive"`
}

// SubmitJobResponse 提交结果
type SubmitJobResponse struct {
	JobID      string   `json:"job_id"`
	DialogueID string   `json:"dialogue_id"`
	StreamID   string   `json:"stream_id"`
	Questions  []string `json:"question_ids"`
}
