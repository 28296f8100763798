package entity

import (
	"fmt"
	"strings"
)

// Field 表字段
type Field struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Example     string `json:"example"`
}

// CatalogEntry 数据字典中的一张表
//
// CanonicalID 是稳定键（库英文名.表英文名，小写）；DisplayNameExternal 是生成查询时使用的表名。
// 加载后不可变，需要刷新展示信息时使用 WithDisplay 生成副本。
type CatalogEntry struct {
	CanonicalID         string  `json:"canonical_id"`
	DisplayNameLocal    string  `json:"display_name_local"`
	DisplayNameExternal string  `json:"display_name_external"`
	Description         string  `json:"description"`
	Fields              []Field `json:"fields"`
}

// Representation 用于向量编码的表示文本
func (e CatalogEntry) Representation() string {
	return fmt.Sprintf("库表名：%s，注释：%s", e.DisplayNameLocal, e.Description)
}

// WithDisplay 返回替换了展示信息（两种名称与描述）的副本，空值保留原值
func (e CatalogEntry) WithDisplay(local, external, description string) CatalogEntry {
	cp := e
	if strings.TrimSpace(local) != "" {
		cp.DisplayNameLocal = local
	}
	if strings.TrimSpace(external) != "" {
		cp.DisplayNameExternal = external
	}
	if strings.TrimSpace(description) != "" {
		cp.Description = description
	}
	cp.Fields = append([]Field(nil), e.Fields...)
	return cp
}

// CanonicalTableID 规范化表标识
func CanonicalTableID(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RetrievalHit 相似度检索命中
type RetrievalHit struct {
	Position int     `json:"position"`
	Score    float64 `json:"score"`
}
