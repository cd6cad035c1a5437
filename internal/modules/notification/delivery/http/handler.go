package handler

import (
	"context"
	"net/http"
	"strconv"

	notifService "anoa.com/fellowship/internal/modules/notification/service"
	"anoa.com/fellowship/pkg/apperror"
	"anoa.com/fellowship/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Listener yields a principal's pushes. RedisDeliverer implements it.
type Listener interface {
	Listen(ctx context.Context, principal string) (<-chan *redis.Message, func() error, error)
}

type NotificationHandler struct {
	service  notifService.NotificationService
	listener Listener
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewNotificationHandler(service notifService.NotificationService, listener Listener, upgrader websocket.Upgrader, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service:  service,
		listener: listener,
		upgrader: upgrader,
		log:      log,
	}
}

func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		response.ResponseError(c, apperror.Invalid("invalid limit"))
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		response.ResponseError(c, apperror.Invalid("invalid offset"))
		return
	}

	notifications, err := h.service.GetNotifications(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": notifications})
}

func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	if err := h.service.MarkAsRead(c.Request.Context(), userID, c.Param("id")); err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Marked as read"})
}

func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	n, err := h.service.MarkAllAsRead(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All notifications marked as read", "updated": n})
}

func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	count, err := h.service.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		response.ResponseError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// HandleWebSocket relays the caller's pushes until either side hangs up.
func (h *NotificationHandler) HandleWebSocket(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	if h.listener == nil {
		response.ResponseError(c, apperror.New(http.StatusServiceUnavailable, "push delivery is not configured", apperror.ErrTransport))
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	messages, stop, err := h.listener.Listen(ctx, userID)
	if err != nil {
		response.ResponseError(c, apperror.New(http.StatusServiceUnavailable, "subscribe failed", err))
		return
	}
	defer stop()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientClosed := make(chan struct{})
	go func() {
		defer close(clientClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				h.log.Debug("websocket write failed", zap.String("user_id", userID), zap.Error(err))
				return
			}
		case <-clientClosed:
			return
		case <-ctx.Done():
			return
		}
	}
}
