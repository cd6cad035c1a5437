package docstore

import (
	"context"
	"errors"
)

// Txn is an optimistic read-modify-write unit. Every document read through the
// transaction is pinned to the version observed; Commit fails with ErrConflict
// if any of them changed in the meantime.
type Txn struct {
	store  Store
	reads  map[Key]*Document
	read   map[Key]bool
	order  []Key
	writes map[Key]Op
	worder []Key
	err    error
}

// RunTransaction runs fn once and commits the writes it staged. It does not
// retry: callers decide how often to retry on ErrConflict.
func RunTransaction(ctx context.Context, s Store, fn func(ctx context.Context, tx *Txn) error) error {
	tx := &Txn{
		store:  s,
		reads:  make(map[Key]*Document),
		read:   make(map[Key]bool),
		writes: make(map[Key]Op),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.err != nil {
		return tx.err
	}
	if len(tx.writes) == 0 {
		return nil
	}
	return s.Commit(ctx, tx.batch())
}

// Get reads a document and pins its version. A missing document is pinned as
// absent and reported as ErrNotFound.
func (t *Txn) Get(ctx context.Context, key Key) (*Document, error) {
	if t.read[key] {
		if doc := t.reads[key]; doc != nil {
			return doc, nil
		}
		return nil, ErrNotFound
	}
	doc, err := t.store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	t.pin(key, doc)
	if doc == nil {
		return nil, ErrNotFound
	}
	return doc, nil
}

// List reads a collection and pins every returned document.
func (t *Txn) List(ctx context.Context, collection string) ([]*Document, error) {
	docs, err := t.store.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		if t.read[d.Key] {
			if prev := t.reads[d.Key]; prev == nil || prev.Version != d.Version {
				t.err = ErrConflict
			}
			continue
		}
		t.pin(d.Key, d)
	}
	return docs, nil
}

func (t *Txn) Create(key Key, v any) { t.stage(OpCreate, key, v) }
func (t *Txn) Set(key Key, v any)    { t.stage(OpSet, key, v) }
func (t *Txn) Update(key Key, v any) { t.stage(OpUpdate, key, v) }
func (t *Txn) Delete(key Key)        { t.stage(OpDelete, key, nil) }

func (t *Txn) pin(key Key, doc *Document) {
	t.read[key] = true
	t.reads[key] = doc
	t.order = append(t.order, key)
}

func (t *Txn) stage(kind OpKind, key Key, v any) {
	if _, ok := t.writes[key]; !ok {
		t.worder = append(t.worder, key)
	}
	// encode through a throwaway batch so errors surface the same way
	probe := NewBatch()
	switch kind {
	case OpCreate:
		probe.Create(key, v)
	case OpSet:
		probe.Set(key, v)
	case OpUpdate:
		probe.Update(key, v)
	case OpDelete:
		probe.Delete(key)
	}
	if probe.err != nil {
		t.err = probe.err
		return
	}
	t.writes[key] = probe.ops[0]
}

// batch turns the staged writes into a batch whose preconditions pin every
// document the transaction observed.
func (t *Txn) batch() *Batch {
	b := NewBatch()
	for _, key := range t.worder {
		op := t.writes[key]
		if t.read[key] && op.Kind != OpCreate {
			if doc := t.reads[key]; doc != nil {
				op.Precondition = AtVersion(doc.Version)
			} else {
				op.Precondition = MustNotExist()
			}
		}
		b.ops = append(b.ops, op)
		b.seen[key] = struct{}{}
	}
	for _, key := range t.order {
		if _, written := t.writes[key]; written {
			continue
		}
		if _, dup := b.seen[key]; dup {
			continue
		}
		if doc := t.reads[key]; doc != nil {
			b.Check(key, AtVersion(doc.Version))
		} else {
			b.Check(key, MustNotExist())
		}
	}
	return b
}
