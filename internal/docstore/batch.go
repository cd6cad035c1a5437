package docstore

import (
	"encoding/json"
	"fmt"
	"time"
)

type preconditionKind int

const (
	preNone preconditionKind = iota
	preExists
	preNotExists
	preVersion
)

// Precondition guards a batch operation against the current stored state.
type Precondition struct {
	kind    preconditionKind
	version int64
}

func Exists() Precondition       { return Precondition{kind: preExists} }
func MustNotExist() Precondition { return Precondition{kind: preNotExists} }
func AtVersion(v int64) Precondition {
	return Precondition{kind: preVersion, version: v}
}

func (p Precondition) check(key Key, current *Document) error {
	switch p.kind {
	case preExists:
		if current == nil {
			return fmt.Errorf("%w: %s does not exist", ErrConflict, key)
		}
	case preNotExists:
		if current != nil {
			return fmt.Errorf("%w: %s already exists", ErrConflict, key)
		}
	case preVersion:
		if current == nil {
			return fmt.Errorf("%w: %s was deleted", ErrConflict, key)
		}
		if current.Version != p.version {
			return fmt.Errorf("%w: %s changed (version %d, expected %d)", ErrConflict, key, current.Version, p.version)
		}
	}
	return nil
}

type OpKind int

const (
	OpCreate OpKind = iota
	OpSet
	OpUpdate
	OpDelete
	OpCheck
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCheck:
		return "check"
	}
	return "unknown"
}

// Op is a single write (or read guard) inside a batch.
type Op struct {
	Kind         OpKind
	Key          Key
	Data         json.RawMessage
	Precondition Precondition
}

// Batch collects operations that commit together. Encoding errors and
// duplicate keys are recorded and surface from Commit.
type Batch struct {
	ops  []Op
	seen map[Key]struct{}
	err  error
}

func NewBatch() *Batch {
	return &Batch{seen: make(map[Key]struct{})}
}

// Create writes a new document; the commit fails if it already exists.
func (b *Batch) Create(key Key, v any) *Batch {
	return b.add(OpCreate, key, v, MustNotExist())
}

// Set writes a document whether or not it exists.
func (b *Batch) Set(key Key, v any, pre ...Precondition) *Batch {
	return b.add(OpSet, key, v, first(pre))
}

// Update replaces an existing document. Without a precondition a missing
// document fails the commit with ErrNotFound; AtVersion reports a deletion
// since the read as ErrConflict instead.
func (b *Batch) Update(key Key, v any, pre ...Precondition) *Batch {
	p := first(pre)
	if p.kind == preNone {
		p = Exists()
	}
	return b.add(OpUpdate, key, v, p)
}

// Delete removes a document. Deleting a missing document is a no-op unless a
// precondition says otherwise.
func (b *Batch) Delete(key Key, pre ...Precondition) *Batch {
	return b.add(OpDelete, key, nil, first(pre))
}

// Check asserts a precondition without writing.
func (b *Batch) Check(key Key, pre Precondition) *Batch {
	return b.add(OpCheck, key, nil, pre)
}

func (b *Batch) add(kind OpKind, key Key, v any, pre Precondition) *Batch {
	if b.err != nil {
		return b
	}
	if key.Collection == "" || key.ID == "" {
		b.err = fmt.Errorf("%w: empty key in %s", ErrInvalidBatch, kind)
		return b
	}
	if _, dup := b.seen[key]; dup {
		b.err = fmt.Errorf("%w: %s appears twice", ErrInvalidBatch, key)
		return b
	}
	op := Op{Kind: kind, Key: key, Precondition: pre}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			b.err = fmt.Errorf("%w: encode %s: %v", ErrInvalidBatch, key, err)
			return b
		}
		op.Data = data
	}
	b.seen[key] = struct{}{}
	b.ops = append(b.ops, op)
	return b
}

func (b *Batch) Ops() []Op { return b.ops }
func (b *Batch) Len() int  { return len(b.ops) }
func (b *Batch) Err() error {
	if b.err != nil {
		return b.err
	}
	if len(b.ops) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidBatch)
	}
	return nil
}

// Keys lists every key the batch touches, in insertion order.
func (b *Batch) Keys() []Key {
	keys := make([]Key, 0, len(b.ops))
	for _, op := range b.ops {
		keys = append(keys, op.Key)
	}
	return keys
}

func first(pre []Precondition) Precondition {
	if len(pre) == 0 {
		return Precondition{}
	}
	return pre[0]
}

// Plan validates a batch against the current state of its keys and computes
// the resulting changes. current holds the stored document for every key the
// batch touches (nil or absent when missing). Every backend commits through
// Plan so the batch semantics are identical across stores.
func Plan(ops []Op, current map[Key]*Document, version int64, now time.Time) ([]Change, error) {
	changes := make([]Change, 0, len(ops))
	for _, op := range ops {
		cur := current[op.Key]
		if op.Kind == OpUpdate && cur == nil && op.Precondition.kind == preExists {
			return nil, fmt.Errorf("%w: update %s", ErrNotFound, op.Key)
		}
		if err := op.Precondition.check(op.Key, cur); err != nil {
			return nil, err
		}
		switch op.Kind {
		case OpCheck:
			continue
		case OpUpdate:
			if cur == nil {
				return nil, fmt.Errorf("%w: update %s", ErrNotFound, op.Key)
			}
		case OpDelete:
			if cur == nil {
				continue
			}
			changes = append(changes, Change{Type: Removed, Key: op.Key, Version: version})
			continue
		}

		doc := &Document{
			Key:        op.Key,
			Data:       op.Data,
			Version:    version,
			CreateTime: now,
			UpdateTime: now,
		}
		kind := Added
		if cur != nil {
			doc.CreateTime = cur.CreateTime
			kind = Modified
		}
		changes = append(changes, Change{Type: kind, Key: op.Key, Document: doc, Version: version})
	}
	return changes, nil
}
