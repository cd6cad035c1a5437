// Package subscription keeps live per-subscriber projections of store data.
// Each subscription owns its projection; the hub only indexes them by handle
// so that closing a subscription discards its state.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
	"anoa.com/fellowship/pkg/retry"
	"go.uber.org/zap"
)

// Handle identifies a subscription inside the hub.
type Handle uint64

// ProfileReader resolves counterpart profiles for the accepted-friends
// projection.
type ProfileReader interface {
	GetCurrentProfile(ctx context.Context, userID string) (*entity.Profile, error)
}

// projection is the state behind one subscription. It is only touched by the
// subscription's own goroutine.
type projection interface {
	collections() []string
	resync(ctx context.Context) error
	apply(c docstore.Change) (bool, error)
	snapshot(ctx context.Context) Update
}

type Hub struct {
	store       docstore.Store
	profiles    ProfileReader
	maxInterval time.Duration
	log         *zap.Logger

	mu    sync.Mutex
	next  Handle
	arena map[Handle]*Subscription
}

func NewHub(store docstore.Store, profiles ProfileReader, maxInterval time.Duration, log *zap.Logger) *Hub {
	return &Hub{
		store:       store,
		profiles:    profiles,
		maxInterval: maxInterval,
		log:         log,
		arena:       make(map[Handle]*Subscription),
	}
}

// Subscription is a live projection. Updates is closed once the subscription
// ends, after which nothing more is delivered. Cancelling the context passed
// to Subscribe* ends it too.
type Subscription struct {
	handle  Handle
	hub     *Hub
	proj    projection
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *Subscription) Handle() Handle { return s.handle }

func (s *Subscription) Updates() <-chan Update { return s.updates }

// Close stops the subscription and waits for its goroutine to exit. It is
// safe to call more than once.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	s.hub.release(s.handle)
	return nil
}

// Active counts open subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.arena)
}

// Close ends every open subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.arena))
	for _, s := range h.arena {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
}

func (h *Hub) release(handle Handle) {
	h.mu.Lock()
	delete(h.arena, handle)
	h.mu.Unlock()
}

// start connects p, computes the first snapshot and hands the subscription
// to its own goroutine. Connection errors are returned to the caller.
func (h *Hub) start(ctx context.Context, p projection) (*Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	conn, err := h.connect(subCtx, p)
	if err != nil {
		cancel()
		return nil, err
	}
	first := p.snapshot(subCtx)

	h.mu.Lock()
	h.next++
	sub := &Subscription{
		handle:  h.next,
		hub:     h,
		proj:    p,
		updates: make(chan Update),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	h.arena[sub.handle] = sub
	h.mu.Unlock()

	go h.run(subCtx, sub, conn, first)
	return sub, nil
}

// connection is one generation of change streams merged into one channel.
type connection struct {
	cancel  context.CancelFunc
	changes chan docstore.Change
	failed  chan error
	streams []docstore.Stream
}

func (c *connection) close() {
	c.cancel()
	for _, s := range c.streams {
		_ = s.Close()
	}
}

// connect opens the change streams before the full read so that no commit
// can fall between the two.
func (h *Hub) connect(ctx context.Context, p projection) (*connection, error) {
	connCtx, cancel := context.WithCancel(ctx)
	conn := &connection{
		cancel:  cancel,
		changes: make(chan docstore.Change),
		failed:  make(chan error, len(p.collections())),
	}
	for _, col := range p.collections() {
		s, err := h.store.Watch(connCtx, col)
		if err != nil {
			conn.close()
			return nil, fmt.Errorf("watch %s: %w", col, err)
		}
		conn.streams = append(conn.streams, s)
		go forward(connCtx, s, conn)
	}
	if err := p.resync(ctx); err != nil {
		conn.close()
		return nil, err
	}
	return conn, nil
}

func forward(ctx context.Context, s docstore.Stream, conn *connection) {
	for c := range s.Changes() {
		select {
		case conn.changes <- c:
		case <-ctx.Done():
			return
		}
	}
	if ctx.Err() != nil {
		return
	}
	err := s.Err()
	if err == nil {
		err = docstore.ErrUnavailable
	}
	conn.failed <- err
}

func (h *Hub) run(ctx context.Context, sub *Subscription, conn *connection, first Update) {
	defer close(sub.done)
	defer close(sub.updates)
	defer h.release(sub.handle)

	if !sub.emit(ctx, first) {
		conn.close()
		return
	}

	bo := retry.NewReconnectBackOff(h.maxInterval)
	for {
		err := h.consume(ctx, sub, conn)
		conn.close()
		if ctx.Err() != nil {
			return
		}
		h.log.Warn("subscription stream lost, resubscribing",
			zap.Uint64("handle", uint64(sub.handle)),
			zap.Error(err),
		)

		conn = nil
		for conn == nil {
			if !retry.Wait(ctx, bo.NextBackOff()) {
				return
			}
			conn, err = h.connect(ctx, sub.proj)
			if err != nil && !errors.Is(err, context.Canceled) {
				h.log.Warn("resubscribe failed", zap.Uint64("handle", uint64(sub.handle)), zap.Error(err))
			}
		}
		bo.Reset()

		u := sub.proj.snapshot(ctx)
		u.Resynced = true
		if !sub.emit(ctx, u) {
			conn.close()
			return
		}
	}
}

// consume applies changes until the connection fails or ctx ends.
func (h *Hub) consume(ctx context.Context, sub *Subscription, conn *connection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-conn.failed:
			return err
		case c := <-conn.changes:
			changed, err := sub.proj.apply(c)
			if err != nil {
				// an undecodable document poisons the projection until resync
				return err
			}
			if !changed {
				continue
			}
			if !sub.emit(ctx, sub.proj.snapshot(ctx)) {
				return ctx.Err()
			}
		}
	}
}

func (s *Subscription) emit(ctx context.Context, u Update) bool {
	select {
	case s.updates <- u:
		return true
	case <-ctx.Done():
		return false
	}
}

// versions remembers the last applied store version per document. It is
// never lowered, so a replayed event older than a deletion stays ignored.
type versions map[docstore.Key]int64

func (v versions) advance(key docstore.Key, version int64) bool {
	if version <= v[key] {
		return false
	}
	v[key] = version
	return true
}
