package dto

import "finqa-api/internal/domain/entity"

// CatalogSearchRequest 库表检索请求
type CatalogSearchRequest struct {
	Text      string   `json:"text" binding:"required,max=2000"`
	K         int      `json:"k,omitempty" binding:"omitempty,min=1,max=200"`
	Threshold *float64 `json:"threshold,omitempty" binding:"omitempty,min=0,max=1"`
}

// CatalogMatch 检索到的库表
type CatalogMatch struct {
	CanonicalID         string  `json:"canonical_id"`
	DisplayNameLocal    string  `json:"display_name_local"`
	DisplayNameExternal string  `json:"display_name_external"`
	Description         string  `json:"description,omitempty"`
	Score               float64 `json:"score"`
}

// CatalogSearchResponse 库表检索响应
type CatalogSearchResponse struct {
	Matches []*CatalogMatch `json:"matches"`
}

// ToCatalogMatch 转换目录条目
func ToCatalogMatch(e entity.CatalogEntry, score float64) *CatalogMatch {
	return &CatalogMatch{
		CanonicalID:         e.CanonicalID,
		DisplayNameLocal:    e.DisplayNameLocal,
		DisplayNameExternal: e.DisplayNameExternal,
		Description:         e.Description,
		Score:               score,
	}
}
