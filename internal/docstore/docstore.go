// Package docstore is the document persistence substrate the engine is built on.
//
// Documents live at slash-separated paths of alternating collection and id
// segments ("users/{id}/friendships/{counterpartId}"). Every backend offers
// point reads, ordered collection reads, atomic multi-document batches guarded
// by preconditions, and a per-collection change stream. Optimistic
// transactions are layered on top of those primitives in txn.go.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"anoa.com/fellowship/pkg/apperror"
)

var (
	ErrNotFound     = fmt.Errorf("docstore: %w", apperror.ErrNotFound)
	ErrConflict     = fmt.Errorf("docstore: precondition failed: %w", apperror.ErrConcurrencyConflict)
	ErrUnavailable  = fmt.Errorf("docstore: %w", apperror.ErrTransport)
	ErrInvalidBatch = fmt.Errorf("docstore: invalid batch: %w", apperror.ErrInvalidOperation)
	ErrClosed       = fmt.Errorf("docstore: store closed: %w", apperror.ErrTransport)
)

// Key addresses a single document.
type Key struct {
	Collection string
	ID         string
}

// Doc builds a key from alternating collection/id segments.
func Doc(segments ...string) Key {
	if len(segments) < 2 || len(segments)%2 != 0 {
		panic(fmt.Sprintf("docstore: document path needs an even number of segments, got %d", len(segments)))
	}
	return Key{
		Collection: strings.Join(segments[:len(segments)-1], "/"),
		ID:         segments[len(segments)-1],
	}
}

// Collection builds a collection path from alternating collection/id segments.
func Collection(segments ...string) string {
	if len(segments)%2 != 1 {
		panic(fmt.Sprintf("docstore: collection path needs an odd number of segments, got %d", len(segments)))
	}
	return strings.Join(segments, "/")
}

func (k Key) Path() string {
	return k.Collection + "/" + k.ID
}

func (k Key) String() string {
	return k.Path()
}

// Document is a stored record plus the metadata assigned by the store.
// Version is a store-wide commit revision; it strictly increases for every
// write touching the same key, so it orders events per document.
type Document struct {
	Key        Key
	Data       json.RawMessage
	Version    int64
	CreateTime time.Time
	UpdateTime time.Time
}

// DataTo decodes the document payload into v.
func (d *Document) DataTo(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Key, err)
	}
	return nil
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, key Key) (*Document, error)
	// List returns the documents of a collection ordered by CreateTime ascending.
	List(ctx context.Context, collection string) ([]*Document, error)
	// Commit applies every operation of the batch atomically or none of them.
	Commit(ctx context.Context, batch *Batch) error
	// Watch streams changes for one collection, in commit order per document.
	Watch(ctx context.Context, collection string) (Stream, error)
	Close() error
}

// SortByCreateTime orders documents the way List promises.
func SortByCreateTime(docs []*Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		if !docs[i].CreateTime.Equal(docs[j].CreateTime) {
			return docs[i].CreateTime.Before(docs[j].CreateTime)
		}
		return docs[i].Key.ID < docs[j].Key.ID
	})
}
