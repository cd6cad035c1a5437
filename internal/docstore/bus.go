package docstore

import (
	"context"
	"sync"
)

// ChangeBus carries committed changes from writers to watchers. Backends
// without a native change stream publish through one.
type ChangeBus interface {
	Publish(ctx context.Context, changes []Change) error
	Subscribe(ctx context.Context, collection string) (Stream, error)
}

// LocalBus is an in-process ChangeBus. It only reaches watchers living in the
// same process.
type LocalBus struct {
	mu    sync.Mutex
	feeds map[string]map[*Feed]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{feeds: make(map[string]map[*Feed]struct{})}
}

func (b *LocalBus) Publish(_ context.Context, changes []Change) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range changes {
		for f := range b.feeds[c.Key.Collection] {
			f.Push(c)
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, collection string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := NewFeed(ctx, func(f *Feed) { b.remove(collection, f) })

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-f.Done():
		// cancelled between NewFeed and registration
		return f, nil
	default:
	}
	if b.feeds[collection] == nil {
		b.feeds[collection] = make(map[*Feed]struct{})
	}
	b.feeds[collection][f] = struct{}{}
	return f, nil
}

// FailAll terminates every live subscription with err, simulating a lost
// connection to the store.
func (b *LocalBus) FailAll(err error) {
	b.mu.Lock()
	var all []*Feed
	for _, set := range b.feeds {
		for f := range set {
			all = append(all, f)
		}
	}
	b.mu.Unlock()

	for _, f := range all {
		f.Fail(err)
	}
}

// Subscribers counts live subscriptions for a collection.
func (b *LocalBus) Subscribers(collection string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.feeds[collection])
}

func (b *LocalBus) remove(collection string, f *Feed) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.feeds[collection]
	delete(set, f)
	if len(set) == 0 {
		delete(b.feeds, collection)
	}
}
