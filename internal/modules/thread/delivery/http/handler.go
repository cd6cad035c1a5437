package handler

import (
	"net/http"

	thread "anoa.com/fellowship/internal/modules/thread/service"
	"anoa.com/fellowship/pkg/response"
	"github.com/gin-gonic/gin"
)

type ThreadHandler struct {
	service thread.Service
}

func NewThreadHandler(service thread.Service) *ThreadHandler {
	return &ThreadHandler{service: service}
}

func (h *ThreadHandler) GetThread(c *gin.Context) {
	t, err := h.service.GetThread(c.Request.Context(), c.Param("discussion_id"))
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": t})
}
