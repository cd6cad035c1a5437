package handler

import (
	"net/http"

	engagementDto "anoa.com/fellowship/internal/modules/engagement/dto"
	engagementService "anoa.com/fellowship/internal/modules/engagement/service"
	"anoa.com/fellowship/pkg/response"
	"anoa.com/fellowship/pkg/validator"
	"github.com/gin-gonic/gin"
)

type EngagementHandler struct {
	service engagementService.EngagementService
}

func NewEngagementHandler(service engagementService.EngagementService) *EngagementHandler {
	return &EngagementHandler{service: service}
}

func (h *EngagementHandler) CreateDiscussion(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req engagementDto.CreateDiscussionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	d, err := h.service.CreateDiscussion(c.Request.Context(), userID, req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": d})
}

func (h *EngagementHandler) ListDiscussions(c *gin.Context) {
	list, err := h.service.ListDiscussions(c.Request.Context())
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (h *EngagementHandler) GetDiscussion(c *gin.Context) {
	d, err := h.service.GetDiscussion(c.Request.Context(), c.Param("discussion_id"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": d})
}

func (h *EngagementHandler) DeleteDiscussion(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.DeleteDiscussion(c.Request.Context(), userID, c.Param("discussion_id")); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Discussion deleted"})
}

func (h *EngagementHandler) ToggleLike(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	state, err := h.service.ToggleLike(c.Request.Context(), c.Param("discussion_id"), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": state})
}

func (h *EngagementHandler) AddComment(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req engagementDto.CreateCommentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	comment, err := h.service.AddComment(c.Request.Context(), userID, c.Param("discussion_id"), req)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": comment})
}

func (h *EngagementHandler) DeleteComment(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	err = h.service.DeleteComment(c.Request.Context(), userID, c.Param("discussion_id"), c.Param("comment_id"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Comment deleted"})
}
