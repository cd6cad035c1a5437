package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Bounded decorates a store so that every call carries a deadline. Writes are
// detached from caller cancellation once submitted: they run to completion or
// to the deadline, never halfway. A missed deadline surfaces as
// ErrUnavailable, which callers treat as retryable.
type Bounded struct {
	Store
	timeout time.Duration
}

func WithDeadlines(s Store, timeout time.Duration) *Bounded {
	return &Bounded{Store: s, timeout: timeout}
}

func (b *Bounded) Get(ctx context.Context, key Key) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	doc, err := b.Store.Get(ctx, key)
	return doc, b.translate(err)
}

func (b *Bounded) List(ctx context.Context, collection string) ([]*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	docs, err := b.Store.List(ctx, collection)
	return docs, b.translate(err)
}

func (b *Bounded) Commit(ctx context.Context, batch *Batch) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	return b.translate(b.Store.Commit(ctx, batch))
}

// Watch only bounds the subscription handshake; the stream itself lives as
// long as ctx.
func (b *Bounded) Watch(ctx context.Context, collection string) (Stream, error) {
	type result struct {
		s   Stream
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := b.Store.Watch(ctx, collection)
		done <- result{s, err}
	}()
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.s, b.translate(r.err)
	case <-timer.C:
		go func() {
			if r := <-done; r.s != nil {
				r.s.Close()
			}
		}()
		return nil, fmt.Errorf("%w: watch %s timed out", ErrUnavailable, collection)
	}
}

func (b *Bounded) translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
