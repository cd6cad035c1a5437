package repository

import (
	"context"
	"fmt"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
)

// notificationRecord is the stored shape under users/{id}/notifications/{id}.
type notificationRecord struct {
	Kind           string `json:"kind"`
	OriginatorID   string `json:"originatorId"`
	OriginatorName string `json:"originatorName"`
	Read           bool   `json:"read"`
}

type NotificationRepository interface {
	// StageCreate adds the notification to a caller-owned batch.
	StageCreate(b *docstore.Batch, n *entity.Notification)
	// StageMarkReadFrom adds read flags for userID's unread notifications of
	// kind from originatorID to b, pinned to the versions it saw.
	StageMarkReadFrom(ctx context.Context, b *docstore.Batch, userID, originatorID string, kind entity.NotificationKind) (int, error)
	FindByID(ctx context.Context, userID, id string) (*entity.Notification, error)
	GetByUserID(ctx context.Context, userID string, limit, offset int) ([]entity.Notification, error)
	MarkAsRead(ctx context.Context, userID, id string) error
	MarkAllAsRead(ctx context.Context, userID string) (int, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type notificationRepository struct {
	store docstore.Store
}

func NewNotificationRepository(store docstore.Store) NotificationRepository {
	return &notificationRepository{store: store}
}

func key(userID, id string) docstore.Key {
	return docstore.Doc("users", userID, "notifications", id)
}

func collection(userID string) string {
	return docstore.Collection("users", userID, "notifications")
}

func (r *notificationRepository) StageCreate(b *docstore.Batch, n *entity.Notification) {
	b.Create(key(n.RecipientID, n.ID), notificationRecord{
		Kind:           string(n.Kind),
		OriginatorID:   n.OriginatorID,
		OriginatorName: n.OriginatorName,
		Read:           n.Read,
	})
}

func (r *notificationRepository) StageMarkReadFrom(ctx context.Context, b *docstore.Batch, userID, originatorID string, kind entity.NotificationKind) (int, error) {
	docs, err := r.store.List(ctx, collection(userID))
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, doc := range docs {
		var rec notificationRecord
		if err := doc.DataTo(&rec); err != nil {
			return 0, fmt.Errorf("notification %s: %w", doc.Key.ID, err)
		}
		if rec.Read || rec.OriginatorID != originatorID || rec.Kind != string(kind) {
			continue
		}
		rec.Read = true
		b.Update(doc.Key, rec, docstore.AtVersion(doc.Version))
		marked++
	}
	return marked, nil
}

func (r *notificationRepository) FindByID(ctx context.Context, userID, id string) (*entity.Notification, error) {
	doc, err := r.store.Get(ctx, key(userID, id))
	if err != nil {
		return nil, err
	}
	return decode(userID, doc)
}

func (r *notificationRepository) GetByUserID(ctx context.Context, userID string, limit, offset int) ([]entity.Notification, error) {
	docs, err := r.store.List(ctx, collection(userID))
	if err != nil {
		return nil, err
	}
	// newest first
	out := make([]entity.Notification, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		n, err := decode(userID, docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	if offset >= len(out) {
		return []entity.Notification{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *notificationRepository) MarkAsRead(ctx context.Context, userID, id string) error {
	doc, err := r.store.Get(ctx, key(userID, id))
	if err != nil {
		return err
	}
	var rec notificationRecord
	if err := doc.DataTo(&rec); err != nil {
		return err
	}
	if rec.Read {
		return nil
	}
	rec.Read = true
	return r.store.Commit(ctx, docstore.NewBatch().Update(doc.Key, rec, docstore.AtVersion(doc.Version)))
}

func (r *notificationRepository) MarkAllAsRead(ctx context.Context, userID string) (int, error) {
	docs, err := r.store.List(ctx, collection(userID))
	if err != nil {
		return 0, err
	}
	b := docstore.NewBatch()
	for _, doc := range docs {
		var rec notificationRecord
		if err := doc.DataTo(&rec); err != nil {
			return 0, err
		}
		if rec.Read {
			continue
		}
		rec.Read = true
		b.Update(doc.Key, rec, docstore.AtVersion(doc.Version))
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := r.store.Commit(ctx, b); err != nil {
		return 0, err
	}
	return b.Len(), nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	docs, err := r.store.List(ctx, collection(userID))
	if err != nil {
		return 0, err
	}
	var count int64
	for _, doc := range docs {
		var rec notificationRecord
		if err := doc.DataTo(&rec); err != nil {
			return 0, err
		}
		if !rec.Read {
			count++
		}
	}
	return count, nil
}

func decode(userID string, doc *docstore.Document) (*entity.Notification, error) {
	var rec notificationRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("notification %s: %w", doc.Key.ID, err)
	}
	return &entity.Notification{
		ID:             doc.Key.ID,
		RecipientID:    userID,
		Kind:           entity.NotificationKind(rec.Kind),
		OriginatorID:   rec.OriginatorID,
		OriginatorName: rec.OriginatorName,
		Read:           rec.Read,
		CreatedAt:      doc.CreateTime,
	}, nil
}
