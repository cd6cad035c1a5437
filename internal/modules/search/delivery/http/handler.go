package handler

import (
	"net/http"

	searchDto "anoa.com/fellowship/internal/modules/search/dto"
	search "anoa.com/fellowship/internal/modules/search/service"
	"anoa.com/fellowship/pkg/response"
	"anoa.com/fellowship/pkg/validator"
	"github.com/gin-gonic/gin"
)

type SearchHandler struct {
	service search.SearchService
}

func NewSearchHandler(service search.SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

func (h *SearchHandler) SearchDiscussions(c *gin.Context) {
	var q searchDto.SearchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	res, err := h.service.SearchDiscussions(search.Query{
		Text:   q.Q,
		Tag:    q.Tag,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": res.Hits, "total": res.Total})
}
