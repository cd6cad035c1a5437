package handler

import (
	"net/http"
	"strings"

	"anoa.com/fellowship/internal/entity"
	friendDto "anoa.com/fellowship/internal/modules/friendship/dto"
	friendService "anoa.com/fellowship/internal/modules/friendship/service"
	"anoa.com/fellowship/pkg/response"
	"anoa.com/fellowship/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
)

type FriendshipHandler struct {
	service   friendService.FriendshipService
	sanitizer *bluemonday.Policy
}

func NewFriendshipHandler(service friendService.FriendshipService) *FriendshipHandler {
	return &FriendshipHandler{service: service, sanitizer: bluemonday.StrictPolicy()}
}

func (h *FriendshipHandler) SendRequest(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var req friendDto.SendRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	name := strings.TrimSpace(h.sanitizer.Sanitize(req.DisplayName))
	result, err := h.service.SendRequest(c.Request.Context(), userID, req.UserID, name)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == friendService.OutcomeRequested {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": result})
}

func (h *FriendshipHandler) Accept(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	edge, err := h.service.Accept(c.Request.Context(), userID, c.Param("user_id"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": edge})
}

func (h *FriendshipHandler) Decline(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.Decline(c.Request.Context(), userID, c.Param("user_id")); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Friend request declined"})
}

func (h *FriendshipHandler) Remove(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.Remove(c.Request.Context(), userID, c.Param("user_id")); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Friendship removed"})
}

func (h *FriendshipHandler) ListAccepted(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	list, err := h.service.ListAccepted(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": list.Edges, "faults": list.Faults})
}

func (h *FriendshipHandler) ListPending(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	var q friendDto.PendingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}
	direction := entity.DirectionReceived
	if q.Direction != "" {
		direction = entity.Direction(q.Direction)
	}

	list, err := h.service.ListPending(c.Request.Context(), userID, direction)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": list.Edges, "faults": list.Faults})
}
