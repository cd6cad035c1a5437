package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/docstore/memory"
	"anoa.com/fellowship/internal/entity"
	notifRepo "anoa.com/fellowship/internal/modules/notification/repository"
	"anoa.com/fellowship/pkg/apperror"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newService(t *testing.T, d Deliverer) (NotificationService, *memory.Store) {
	t.Helper()
	store := memory.New()
	return NewNotificationService(notifRepo.NewNotificationRepository(store), d, zap.NewNop()), store
}

func stageAndCommit(t *testing.T, svc NotificationService, store docstore.Store, to, from string) *entity.Notification {
	t.Helper()
	b := docstore.NewBatch()
	n, err := svc.Stage(b, to, from, from+"-name")
	if err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if err := store.Commit(context.Background(), b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return n
}

func TestStageWritesNothingUntilCommit(t *testing.T) {
	svc, store := newService(t, nil)
	b := docstore.NewBatch()
	if _, err := svc.Stage(b, "bob", "alice", "Alice"); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if got := store.Dump("users/bob/notifications/"); len(got) != 0 {
		t.Fatalf("staging must not write, found %v", got)
	}
	count, _ := svc.UnreadCount(context.Background(), "bob")
	if count != 0 {
		t.Fatalf("expected no unread notifications, got %d", count)
	}
}

func TestInboxReadFlow(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, nil)
	first := stageAndCommit(t, svc, store, "bob", "alice")
	second := stageAndCommit(t, svc, store, "bob", "carol")

	list, err := svc.GetNotifications(ctx, "bob", 10, 0)
	if err != nil {
		t.Fatalf("GetNotifications failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list[0].Kind != entity.KindFriendRequest || list[0].OriginatorID != "carol" || list[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected notification %+v", list[0])
	}

	page, _ := svc.GetNotifications(ctx, "bob", 1, 1)
	if len(page) != 1 || page[0].ID != first.ID {
		t.Fatalf("unexpected page %+v", page)
	}

	if err := svc.MarkAsRead(ctx, "bob", first.ID); err != nil {
		t.Fatalf("MarkAsRead failed: %v", err)
	}
	if count, _ := svc.UnreadCount(ctx, "bob"); count != 1 {
		t.Fatalf("expected 1 unread, got %d", count)
	}

	n, err := svc.MarkAllAsRead(ctx, "bob")
	if err != nil || n != 1 {
		t.Fatalf("MarkAllAsRead = %d, %v", n, err)
	}
	if count, _ := svc.UnreadCount(ctx, "bob"); count != 0 {
		t.Fatalf("expected 0 unread, got %d", count)
	}
	if n, err := svc.MarkAllAsRead(ctx, "bob"); err != nil || n != 0 {
		t.Fatalf("second MarkAllAsRead = %d, %v", n, err)
	}
}

func TestMarkAsReadUnknownNotification(t *testing.T) {
	svc, _ := newService(t, nil)
	err := svc.MarkAsRead(context.Background(), "bob", "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDispatchPublishesToRecipient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	d := NewRedisDeliverer(client)
	svc, store := newService(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, stop, err := d.Listen(ctx, "bob")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer stop()

	n := stageAndCommit(t, svc, store, "bob", "alice")
	svc.Dispatch(ctx, n)

	select {
	case msg := <-messages:
		var got entity.Notification
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode push: %v", err)
		}
		if got.ID != n.ID || got.OriginatorID != "alice" || got.CreatedAt.IsZero() {
			t.Fatalf("unexpected push %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push")
	}
}
