package docstore

import (
	"context"
	"sync"
)

type ChangeType int

const (
	Added ChangeType = iota + 1
	Modified
	Removed
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Change describes one committed write. Document is nil for Removed.
type Change struct {
	Type     ChangeType
	Key      Key
	Document *Document
	Version  int64
}

// Stream is a live change subscription. Changes is closed when the stream
// ends; Err then reports why (nil after Close or context cancellation).
type Stream interface {
	Changes() <-chan Change
	Err() error
	Close() error
}

// Feed is an unbounded, ordered Stream. Producers never block on Push, so a
// slow subscriber cannot stall the commit path.
type Feed struct {
	mu      sync.Mutex
	queue   []Change
	signal  chan struct{}
	out     chan Change
	done    chan struct{}
	once    sync.Once
	err     error
	onClose func(*Feed)
	stop    func() bool
}

// NewFeed starts a feed that ends when ctx is cancelled. onClose runs once,
// when the feed terminates for any reason.
func NewFeed(ctx context.Context, onClose func(*Feed)) *Feed {
	f := &Feed{
		signal:  make(chan struct{}, 1),
		out:     make(chan Change),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	f.mu.Lock()
	f.stop = context.AfterFunc(ctx, func() { f.terminate(nil) })
	f.mu.Unlock()
	go f.pump()
	return f
}

// Push enqueues a change. It reports false once the feed has ended.
func (f *Feed) Push(c Change) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.queue = append(f.queue, c)
	f.mu.Unlock()

	select {
	case f.signal <- struct{}{}:
	default:
	}
	return true
}

// Fail ends the feed with err. Queued changes that were not yet delivered
// are dropped; subscribers are expected to resync.
func (f *Feed) Fail(err error) {
	f.terminate(err)
}

func (f *Feed) Changes() <-chan Change { return f.out }

func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed) Close() error {
	f.terminate(nil)
	return nil
}

// Done is closed when the feed terminates.
func (f *Feed) Done() <-chan struct{} { return f.done }

func (f *Feed) terminate(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.queue = nil
		close(f.done)
		stop := f.stop
		f.mu.Unlock()
		if stop != nil {
			stop()
		}
		if f.onClose != nil {
			f.onClose(f)
		}
	})
}

func (f *Feed) pump() {
	defer close(f.out)
	for {
		select {
		case <-f.done:
			return
		case <-f.signal:
		}
		for {
			f.mu.Lock()
			if len(f.queue) == 0 {
				f.mu.Unlock()
				break
			}
			next := f.queue[0]
			f.queue = f.queue[1:]
			f.mu.Unlock()

			select {
			case f.out <- next:
			case <-f.done:
				return
			}
		}
	}
}
