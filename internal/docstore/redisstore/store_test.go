package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/docstore/docstoretest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, mr *miniredis.Miniredis) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestStoreSuite(t *testing.T) {
	docstoretest.Run(t, func(t *testing.T) docstore.Store {
		return newTestStore(t, miniredis.RunT(t))
	})
}

func TestWatchSeesOtherProcessCommits(t *testing.T) {
	mr := miniredis.RunT(t)
	writer := newTestStore(t, mr)
	watcher := newTestStore(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	col := docstore.Collection("users", "u2", "friendships")
	stream, err := watcher.Watch(ctx, col)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stream.Close()

	key := docstore.Doc("users", "u2", "friendships", "u1")
	if err := writer.Commit(ctx, docstore.NewBatch().Create(key, map[string]string{"status": "pending"})); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	select {
	case c := <-stream.Changes():
		if c.Type != docstore.Added || c.Key != key {
			t.Fatalf("unexpected change %s %s", c.Type, c.Key)
		}
		if c.Document == nil || string(c.Document.Data) != `{"status":"pending"}` {
			t.Fatalf("unexpected payload %+v", c.Document)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestUpdateMissingIsNotFound(t *testing.T) {
	s := newTestStore(t, miniredis.RunT(t))
	err := s.Commit(context.Background(), docstore.NewBatch().Update(docstore.Doc("things", "x"), map[string]int{"n": 1}))
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnreachableServerIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	s := newTestStore(t, mr)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.Get(ctx, docstore.Doc("things", "x"))
	if !errors.Is(err, docstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestDecodeDocRejectsCorruptHash(t *testing.T) {
	_, err := decodeDoc(docstore.Doc("things", "x"), map[string]string{"data": "{}", "version": "abc"})
	if err == nil {
		t.Fatal("expected decode error")
	}
}
