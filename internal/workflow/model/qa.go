package model

import "finqa-api/internal/domain/entity"

// Extraction 表选择与实体抽取结果
type Extraction struct {
	// RequiredTables 模型指名的表（canonical_id），按模型给出的顺序
	RequiredTables []string
	Entities       []entity.Entity
}

// Empty 无任何结果
func (e *Extraction) Empty() bool {
	return e == nil || (len(e.RequiredTables) == 0 && len(e.Entities) == 0)
}

// AnswerInput 答案生成输入
type AnswerInput struct {
	Understanding *entity.Understanding
	SQL           string
	Result        *entity.QueryResult
	Sentinel      string
}
