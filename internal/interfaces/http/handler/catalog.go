package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"finqa-api/internal/application/catalog"
	"finqa-api/internal/interfaces/http/dto"
	"finqa-api/pkg/logger"
)

// CatalogSearcher 库表检索
type CatalogSearcher interface {
	Search(ctx context.Context, text string, k int, threshold float64) ([]catalog.Match, error)
}

// CatalogHandler 库表检索处理器
type CatalogHandler struct {
	searcher CatalogSearcher
}

func NewCatalogHandler(searcher CatalogSearcher) *CatalogHandler {
	return &CatalogHandler{searcher: searcher}
}

// Search 检索与文本相关的库表
// @Summary 库表检索
// @Tags Catalog
// @Accept json
// @Produce json
// @Param body body dto.CatalogSearchRequest true "检索请求"
// @Success 200 {object} dto.Response[dto.CatalogSearchResponse]
// @Failure 503 {object} dto.ErrorResponse "索引未就绪"
// @Router /v1/catalog/search [post]
func (h *CatalogHandler) Search(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CatalogSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}
	threshold := -1.0
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	matches, err := h.searcher.Search(ctx, req.Text, req.K, threshold)
	if err != nil {
		logger.Warn(ctx, "catalog search failed", "error", err)
		dto.AppError(c, err)
		return
	}

	resp := &dto.CatalogSearchResponse{Matches: make([]*dto.CatalogMatch, 0, len(matches))}
	for _, m := range matches {
		resp.Matches = append(resp.Matches, dto.ToCatalogMatch(m.Entry, m.Score))
	}
	dto.Success(c, resp)
}
