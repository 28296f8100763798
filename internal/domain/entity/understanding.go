package entity

// Entity 从问题中抽取的实体
type Entity struct {
	CanonicalTableID string  `json:"canonical_table_id,omitempty"`
	Value            string  `json:"value,omitempty"`
	Confidence       float64 `json:"confidence"`
}

// Valid 表标识与实体值至少有一个
func (e Entity) Valid() bool {
	return e.CanonicalTableID != "" || e.Value != ""
}

// Understanding 一次迭代对问题的结构化理解，构造后不再修改
type Understanding struct {
	RewrittenQuestion string         `json:"rewritten_question"`
	Entities          []Entity       `json:"entities"`
	RelevantTables    []CatalogEntry `json:"relevant_tables"`
}

// NewUnderstanding 过滤无效实体并裁剪置信度
func NewUnderstanding(question string, entities []Entity, tables []CatalogEntry) *Understanding {
	valid := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if !e.Valid() {
			continue
		}
		switch {
		case e.Confidence < 0:
			e.Confidence = 0
		case e.Confidence > 1:
			e.Confidence = 1
		}
		valid = append(valid, e)
	}
	if tables == nil {
		tables = []CatalogEntry{}
	}
	return &Understanding{
		RewrittenQuestion: question,
		Entities:          valid,
		RelevantTables:    tables,
	}
}

// EntityValues 返回实体值列表
func (u *Understanding) EntityValues() []string {
	if u == nil {
		return nil
	}
	out := make([]string, 0, len(u.Entities))
	for _, e := range u.Entities {
		if e.Value != "" {
			out = append(out, e.Value)
		}
	}
	return out
}

// TableIDs 返回实体中指名的表
func (u *Understanding) TableIDs() []string {
	if u == nil {
		return nil
	}
	out := make([]string, 0, len(u.Entities))
	for _, e := range u.Entities {
		if e.CanonicalTableID != "" {
			out = append(out, e.CanonicalTableID)
		}
	}
	return out
}
