package docstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/docstore/memory"
)

type counter struct {
	N int `json:"n"`
}

func TestRunTransactionCommitsStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := docstore.Doc("counters", "a")
	b := docstore.Doc("counters", "b")
	if err := s.Commit(ctx, docstore.NewBatch().Create(a, counter{N: 1})); err != nil {
		t.Fatal(err)
	}

	err := docstore.RunTransaction(ctx, s, func(ctx context.Context, tx *docstore.Txn) error {
		doc, err := tx.Get(ctx, a)
		if err != nil {
			return err
		}
		var c counter
		if err := doc.DataTo(&c); err != nil {
			return err
		}
		if _, err := tx.Get(ctx, b); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("expected b to be missing, got %v", err)
		}
		tx.Update(a, counter{N: c.N + 1})
		tx.Create(b, counter{N: 10})
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction failed: %v", err)
	}

	doc, _ := s.Get(ctx, a)
	var c counter
	_ = doc.DataTo(&c)
	if c.N != 2 {
		t.Errorf("expected a=2, got %d", c.N)
	}
	if _, err := s.Get(ctx, b); err != nil {
		t.Errorf("expected b to exist: %v", err)
	}
}

func TestRunTransactionDetectsPhantomCreate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	a := docstore.Doc("counters", "a")
	guard := docstore.Doc("counters", "guard")
	if err := s.Commit(ctx, docstore.NewBatch().Create(a, counter{})); err != nil {
		t.Fatal(err)
	}

	err := docstore.RunTransaction(ctx, s, func(ctx context.Context, tx *docstore.Txn) error {
		if _, err := tx.Get(ctx, guard); !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		// guard appears after it was observed as absent
		if err := s.Commit(ctx, docstore.NewBatch().Create(guard, counter{})); err != nil {
			t.Fatal(err)
		}
		tx.Update(a, counter{N: 1})
		return nil
	})
	if !errors.Is(err, docstore.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRunTransactionWithoutWritesIsNoop(t *testing.T) {
	s := memory.New()
	called := false
	s.SetCommitHook(func(context.Context, *docstore.Batch) error {
		called = true
		return nil
	})
	err := docstore.RunTransaction(context.Background(), s, func(ctx context.Context, tx *docstore.Txn) error {
		_, _ = tx.Get(ctx, docstore.Doc("counters", "x"))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("read-only transaction must not commit")
	}
}

func TestBatchRejectsDuplicateKeys(t *testing.T) {
	key := docstore.Doc("counters", "a")
	b := docstore.NewBatch().Create(key, counter{}).Delete(key)
	if !errors.Is(b.Err(), docstore.ErrInvalidBatch) {
		t.Fatalf("expected ErrInvalidBatch, got %v", b.Err())
	}
}

func TestBoundedCommitIgnoresCallerCancel(t *testing.T) {
	s := memory.New()
	bounded := docstore.WithDeadlines(s, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key := docstore.Doc("counters", "a")
	if err := bounded.Commit(ctx, docstore.NewBatch().Create(key, counter{})); err != nil {
		t.Fatalf("submitted write must run to completion, got %v", err)
	}
	if _, err := s.Get(context.Background(), key); err != nil {
		t.Fatalf("write not applied: %v", err)
	}
}

func TestBoundedTimeoutIsRetryableTransportFailure(t *testing.T) {
	s := memory.New()
	s.SetCommitHook(func(ctx context.Context, _ *docstore.Batch) error {
		<-ctx.Done()
		return ctx.Err()
	})
	bounded := docstore.WithDeadlines(s, 20*time.Millisecond)

	err := bounded.Commit(context.Background(), docstore.NewBatch().Create(docstore.Doc("counters", "a"), counter{}))
	if !errors.Is(err, docstore.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestChangeCodecRoundTrip(t *testing.T) {
	now := time.Now().UTC()
	in := docstore.Change{
		Type:    docstore.Modified,
		Key:     docstore.Doc("discussions", "d1"),
		Version: 7,
		Document: &docstore.Document{
			Key: docstore.Doc("discussions", "d1"), Data: []byte(`{"likes":1}`),
			Version: 7, CreateTime: now, UpdateTime: now,
		},
	}
	payload, err := docstore.EncodeChange(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := docstore.DecodeChange(payload)
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != in.Type || out.Key != in.Key || out.Version != 7 {
		t.Fatalf("unexpected change %+v", out)
	}
	if string(out.Document.Data) != `{"likes":1}` || !out.Document.UpdateTime.Equal(now) {
		t.Fatalf("unexpected document %+v", out.Document)
	}
}
