package service

import (
	"context"
	"encoding/json"
	"fmt"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
	notifRepo "anoa.com/fellowship/internal/modules/notification/repository"
	"anoa.com/fellowship/pkg/apperror"
	"anoa.com/fellowship/pkg/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationService emits friend-request notifications and serves the
// recipient's inbox.
//
// Stage is the only way a notification is created: it joins the caller's
// batch, so the notification commits or fails together with the request that
// caused it. Dispatch pushes it to live clients once that batch has landed.
type NotificationService interface {
	Stage(b *docstore.Batch, recipientID, originatorID, originatorName string) (*entity.Notification, error)
	Dispatch(ctx context.Context, n *entity.Notification)
	Retract(ctx context.Context, b *docstore.Batch, recipientID, originatorID string) error
	GetNotifications(ctx context.Context, userID string, limit, offset int) ([]entity.Notification, error)
	MarkAsRead(ctx context.Context, userID, id string) error
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

type notificationService struct {
	repo      notifRepo.NotificationRepository
	deliverer Deliverer
	log       *zap.Logger
}

// NewNotificationService wires the service. deliverer may be nil, in which
// case notifications are only persisted.
func NewNotificationService(repo notifRepo.NotificationRepository, deliverer Deliverer, log *zap.Logger) NotificationService {
	return &notificationService{
		repo:      repo,
		deliverer: deliverer,
		log:       log,
	}
}

func (s *notificationService) Stage(b *docstore.Batch, recipientID, originatorID, originatorName string) (*entity.Notification, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate notification id: %w", err)
	}
	n := &entity.Notification{
		ID:             id.String(),
		RecipientID:    recipientID,
		Kind:           entity.KindFriendRequest,
		OriginatorID:   originatorID,
		OriginatorName: originatorName,
	}
	s.repo.StageCreate(b, n)
	return n, nil
}

// Retract marks the recipient's unread friend requests from originatorID read
// as part of b, so a pair never carries more than one unread request.
func (s *notificationService) Retract(ctx context.Context, b *docstore.Batch, recipientID, originatorID string) error {
	_, err := s.repo.StageMarkReadFrom(ctx, b, recipientID, originatorID, entity.KindFriendRequest)
	return err
}

func (s *notificationService) Dispatch(ctx context.Context, n *entity.Notification) {
	if s.deliverer == nil {
		return
	}
	// pick up the store-assigned timestamp; the push is still sent without it
	if stored, err := s.repo.FindByID(ctx, n.RecipientID, n.ID); err == nil {
		n = stored
	}
	payload, err := json.Marshal(n)
	if err != nil {
		s.log.Error("encode notification", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	if err := s.deliverer.Deliver(ctx, n.RecipientID, payload); err != nil {
		s.log.Warn("push delivery failed",
			zap.String("recipient_id", n.RecipientID),
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}
}

func (s *notificationService) GetNotifications(ctx context.Context, userID string, limit, offset int) ([]entity.Notification, error) {
	if limit < 0 || offset < 0 {
		return nil, apperror.Invalid("limit and offset must not be negative")
	}
	return s.repo.GetByUserID(ctx, userID, limit, offset)
}

func (s *notificationService) MarkAsRead(ctx context.Context, userID, id string) error {
	return retry.OnConflict(ctx, retry.DefaultAttempts, func() error {
		return s.repo.MarkAsRead(ctx, userID, id)
	})
}

func (s *notificationService) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	var n int
	err := retry.OnConflict(ctx, retry.DefaultAttempts, func() error {
		var err error
		n, err = s.repo.MarkAllAsRead(ctx, userID)
		return err
	})
	return n, err
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}
