// Package memory is an in-process docstore backend. It is used for local
// development and as the reference backend in tests.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"anoa.com/fellowship/internal/docstore"
)

// CommitHook runs before a batch is validated, outside the store lock. Tests
// use it to interleave competing writes or to inject transport failures.
type CommitHook func(ctx context.Context, b *docstore.Batch) error

type Store struct {
	mu       sync.RWMutex
	docs     map[docstore.Key]*docstore.Document
	version  int64
	lastTime time.Time
	clock    func() time.Time
	bus      *docstore.LocalBus
	hook     CommitHook
	closed   bool
}

func New() *Store {
	return &Store{
		docs:  make(map[docstore.Key]*docstore.Document),
		clock: time.Now,
		bus:   docstore.NewLocalBus(),
	}
}

// SetCommitHook installs (or clears, with nil) the commit hook.
func (s *Store) SetCommitHook(h CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// Disconnect terminates every open change stream with ErrUnavailable, the way
// a dropped connection would.
func (s *Store) Disconnect() {
	s.bus.FailAll(docstore.ErrUnavailable)
}

// Watchers counts open change streams on a collection.
func (s *Store) Watchers(collection string) int {
	return s.bus.Subscribers(collection)
}

func (s *Store) Get(ctx context.Context, key docstore.Key) (*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	doc, ok := s.docs[key]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	cp := *doc
	return &cp, nil
}

func (s *Store) List(ctx context.Context, collection string) ([]*docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	var out []*docstore.Document
	for key, doc := range s.docs {
		if key.Collection == collection {
			cp := *doc
			out = append(out, &cp)
		}
	}
	docstore.SortByCreateTime(out)
	return out, nil
}

func (s *Store) Commit(ctx context.Context, b *docstore.Batch) error {
	if err := b.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	hook := s.hook
	s.mu.RUnlock()
	if hook != nil {
		if err := hook(ctx, b); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.ErrClosed
	}

	current := make(map[docstore.Key]*docstore.Document, b.Len())
	for _, key := range b.Keys() {
		if doc, ok := s.docs[key]; ok {
			current[key] = doc
		}
	}
	changes, err := docstore.Plan(b.Ops(), current, s.version+1, s.now())
	if err != nil {
		return err
	}
	s.version++
	for _, c := range changes {
		if c.Type == docstore.Removed {
			delete(s.docs, c.Key)
			continue
		}
		s.docs[c.Key] = c.Document
	}
	// published under the lock so watchers see commits in order
	return s.bus.Publish(ctx, changes)
}

func (s *Store) Watch(ctx context.Context, collection string) (docstore.Stream, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, docstore.ErrClosed
	}
	return s.bus.Subscribe(ctx, collection)
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.bus.FailAll(docstore.ErrClosed)
	return nil
}

// Dump returns every stored path under prefix. Test helper.
func (s *Store) Dump(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key := range s.docs {
		if strings.HasPrefix(key.Path(), prefix) {
			out = append(out, key.Path())
		}
	}
	return out
}

// now returns a strictly increasing store timestamp.
func (s *Store) now() time.Time {
	t := s.clock().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Microsecond)
	}
	s.lastTime = t
	return t
}
