package handler

import (
	"context"

	subscription "anoa.com/fellowship/internal/modules/subscription/service"
	"anoa.com/fellowship/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type SubscriptionHandler struct {
	hub      *subscription.Hub
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewSubscriptionHandler(hub *subscription.Hub, upgrader websocket.Upgrader, log *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{hub: hub, upgrader: upgrader, log: log}
}

// StreamFriends pushes the caller's friendship lists on every change.
func (h *SubscriptionHandler) StreamFriends(c *gin.Context) {
	userID, err := response.GetUserID(c)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	h.stream(c, func(ctx context.Context) (*subscription.Subscription, error) {
		return h.hub.SubscribeFriends(ctx, userID)
	})
}

// StreamThread pushes a discussion's thread and like state on every change.
func (h *SubscriptionHandler) StreamThread(c *gin.Context) {
	discussionID := c.Param("discussion_id")
	h.stream(c, func(ctx context.Context) (*subscription.Subscription, error) {
		return h.hub.SubscribeThread(ctx, discussionID)
	})
}

func (h *SubscriptionHandler) stream(c *gin.Context, subscribe func(ctx context.Context) (*subscription.Subscription, error)) {
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub, err := subscribe(ctx)
	if err != nil {
		response.ResponseError(c, err)
		return
	}
	defer sub.Close()

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
		case u, ok := <-sub.Updates():
			if !ok {
				return
			}
			if err := conn.WriteJSON(u); err != nil {
				h.log.Debug("websocket write failed", zap.Uint64("handle", uint64(sub.Handle())), zap.Error(err))
				return
			}
		case <-clientClosed:
			return
		}
	}
}
