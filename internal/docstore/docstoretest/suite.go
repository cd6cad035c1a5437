// Package docstoretest holds the behaviour every docstore backend must share.
package docstoretest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"anoa.com/fellowship/internal/docstore"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Run executes the shared suite. newStore must return a fresh, empty store.
func Run(t *testing.T, newStore func(t *testing.T) docstore.Store) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("CreateExisting", func(t *testing.T) { testCreateExisting(t, newStore(t)) })
	t.Run("BatchIsAtomic", func(t *testing.T) { testBatchIsAtomic(t, newStore(t)) })
	t.Run("VersionPrecondition", func(t *testing.T) { testVersionPrecondition(t, newStore(t)) })
	t.Run("UpdateMissingIsNotFound", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("CrossedCreatesOneWins", func(t *testing.T) { testCrossedCreates(t, newStore(t)) })
	t.Run("DeleteMissingIsNoop", func(t *testing.T) { testDeleteMissing(t, newStore(t)) })
	t.Run("ListOrdered", func(t *testing.T) { testListOrdered(t, newStore(t)) })
	t.Run("WatchDeliversInOrder", func(t *testing.T) { testWatch(t, newStore(t)) })
	t.Run("TransactionConflict", func(t *testing.T) { testTransactionConflict(t, newStore(t)) })
}

func commit(t *testing.T, s docstore.Store, b *docstore.Batch) {
	t.Helper()
	if err := s.Commit(context.Background(), b); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func testGetMissing(t *testing.T, s docstore.Store) {
	_, err := s.Get(context.Background(), docstore.Doc("things", "nope"))
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testCreateAndGet(t *testing.T, s docstore.Store) {
	key := docstore.Doc("users", "u1", "things", "a")
	commit(t, s, docstore.NewBatch().Create(key, record{Name: "a", Count: 1}))

	doc, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	var got record
	if err := doc.DataTo(&got); err != nil {
		t.Fatalf("DataTo failed: %v", err)
	}
	if got.Name != "a" || got.Count != 1 {
		t.Errorf("unexpected payload %+v", got)
	}
	if doc.Version <= 0 {
		t.Errorf("expected positive version, got %d", doc.Version)
	}
	if doc.CreateTime.IsZero() || doc.UpdateTime.IsZero() {
		t.Error("expected store-assigned timestamps")
	}
}

func testCreateExisting(t *testing.T, s docstore.Store) {
	key := docstore.Doc("things", "a")
	commit(t, s, docstore.NewBatch().Create(key, record{Name: "a"}))

	err := s.Commit(context.Background(), docstore.NewBatch().Create(key, record{Name: "b"}))
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func testBatchIsAtomic(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	taken := docstore.Doc("things", "taken")
	fresh := docstore.Doc("things", "fresh")
	commit(t, s, docstore.NewBatch().Create(taken, record{Name: "taken"}))

	err := s.Commit(ctx, docstore.NewBatch().
		Create(fresh, record{Name: "fresh"}).
		Create(taken, record{Name: "again"}))
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := s.Get(ctx, fresh); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("partial batch applied: fresh lookup returned %v", err)
	}
}

func testVersionPrecondition(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	key := docstore.Doc("things", "v")
	commit(t, s, docstore.NewBatch().Create(key, record{Count: 1}))
	first, _ := s.Get(ctx, key)

	commit(t, s, docstore.NewBatch().Update(key, record{Count: 2}, docstore.AtVersion(first.Version)))
	second, _ := s.Get(ctx, key)
	if second.Version <= first.Version {
		t.Fatalf("version did not advance: %d -> %d", first.Version, second.Version)
	}
	if !second.CreateTime.Equal(first.CreateTime) {
		t.Error("update must keep the original create time")
	}

	err := s.Commit(ctx, docstore.NewBatch().Update(key, record{Count: 3}, docstore.AtVersion(first.Version)))
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("stale update: expected ErrConflict, got %v", err)
	}
}

func testUpdateMissing(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	key := docstore.Doc("things", "x")
	err := s.Commit(ctx, docstore.NewBatch().Update(key, record{Count: 1}))
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("a missing document is not a conflict: %v", err)
	}
	if _, err := s.Get(ctx, key); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("failed update must not create the document, got %v", err)
	}
}

// testCrossedCreates commits two batches creating the same pair of documents
// in opposite order, the way two users befriending each other at once do.
// Exactly one must land and the other must fail as a conflict.
func testCrossedCreates(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	for round := 0; round < 10; round++ {
		a := docstore.Doc("users", "alice", "friendships", "bob")
		b := docstore.Doc("users", "bob", "friendships", "alice")
		if round > 0 {
			commit(t, s, docstore.NewBatch().Delete(a).Delete(b))
		}

		batches := []*docstore.Batch{
			docstore.NewBatch().Create(a, record{Name: "sent"}).Create(b, record{Name: "received"}),
			docstore.NewBatch().Create(b, record{Name: "sent"}).Create(a, record{Name: "received"}),
		}
		errs := make([]error, len(batches))
		var wg sync.WaitGroup
		for i, batch := range batches {
			wg.Add(1)
			go func(i int, batch *docstore.Batch) {
				defer wg.Done()
				errs[i] = s.Commit(ctx, batch)
			}(i, batch)
		}
		wg.Wait()

		won := 0
		for i, err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, docstore.ErrConflict):
			default:
				t.Fatalf("round %d: batch %d failed with %v, want nil or ErrConflict", round, i, err)
			}
		}
		if won != 1 {
			t.Fatalf("round %d: %d batches committed, want exactly 1", round, won)
		}
	}
}

func testDeleteMissing(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	key := docstore.Doc("things", "gone")
	if err := s.Commit(ctx, docstore.NewBatch().Delete(key)); err != nil {
		t.Fatalf("delete of missing document failed: %v", err)
	}
	commit(t, s, docstore.NewBatch().Create(key, record{}))
	commit(t, s, docstore.NewBatch().Delete(key))
	if _, err := s.Get(ctx, key); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testListOrdered(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	col := docstore.Collection("discussions", "d1", "comments")
	for _, id := range []string{"z", "m", "a"} {
		commit(t, s, docstore.NewBatch().Create(docstore.Doc("discussions", "d1", "comments", id), record{Name: id}))
		time.Sleep(time.Millisecond)
	}
	commit(t, s, docstore.NewBatch().Create(docstore.Doc("discussions", "d2", "comments", "x"), record{Name: "x"}))

	docs, err := s.List(ctx, col)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var ids []string
	for _, d := range docs {
		ids = append(ids, d.Key.ID)
	}
	if len(ids) != 3 || ids[0] != "z" || ids[1] != "m" || ids[2] != "a" {
		t.Fatalf("expected creation order [z m a], got %v", ids)
	}
}

func testWatch(t *testing.T, s docstore.Store) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	col := docstore.Collection("users", "u1", "friendships")
	stream, err := s.Watch(ctx, col)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stream.Close()

	key := docstore.Doc("users", "u1", "friendships", "u2")
	commit(t, s, docstore.NewBatch().Create(key, record{Name: "pending"}))
	commit(t, s, docstore.NewBatch().Set(key, record{Name: "accepted"}))
	commit(t, s, docstore.NewBatch().Create(docstore.Doc("users", "u9", "friendships", "u2"), record{}))
	commit(t, s, docstore.NewBatch().Delete(key))

	want := []docstore.ChangeType{docstore.Added, docstore.Modified, docstore.Removed}
	var last int64
	for i, w := range want {
		select {
		case c, ok := <-stream.Changes():
			if !ok {
				t.Fatalf("stream closed early: %v", stream.Err())
			}
			if c.Type != w {
				t.Fatalf("change %d: expected %s, got %s", i, w, c.Type)
			}
			if c.Key != key {
				t.Fatalf("change %d: unexpected key %s", i, c.Key)
			}
			if c.Version <= last {
				t.Fatalf("change %d: version went backwards (%d after %d)", i, c.Version, last)
			}
			last = c.Version
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for change %d", i)
		}
	}
}

func testTransactionConflict(t *testing.T, s docstore.Store) {
	ctx := context.Background()
	key := docstore.Doc("discussions", "d1")
	commit(t, s, docstore.NewBatch().Create(key, record{Count: 0}))

	err := docstore.RunTransaction(ctx, s, func(ctx context.Context, tx *docstore.Txn) error {
		doc, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		var r record
		if err := doc.DataTo(&r); err != nil {
			return err
		}
		// a competing writer lands between read and commit
		commit(t, s, docstore.NewBatch().Set(key, record{Count: 100}))
		r.Count++
		tx.Update(key, r)
		return nil
	})
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	doc, _ := s.Get(ctx, key)
	var r record
	_ = doc.DataTo(&r)
	if r.Count != 100 {
		t.Fatalf("losing transaction must not apply, count = %d", r.Count)
	}
}
