package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
)

// edgeRecord is the stored shape under users/{owner}/friendships/{counterpart}.
// Status and type together encode the owner-relative EdgeStatus.
type edgeRecord struct {
	Status      string `json:"status"`
	Type        string `json:"type"`
	DisplayName string `json:"displayName"`
	PairKey     string `json:"pairKey"`
}

// Edge is a stored edge with the version it was read at.
type Edge struct {
	entity.FriendshipEdge
	Version int64
}

type FriendshipRepository interface {
	// FindPair reads the edge under a and its mirror under b. Missing records
	// come back as nil.
	FindPair(ctx context.Context, a, b string) (own, mirror *Edge, err error)
	Find(ctx context.Context, owner, counterpart string) (*Edge, error)
	ListByOwner(ctx context.Context, owner string) ([]*Edge, error)
	Commit(ctx context.Context, b *docstore.Batch) error
}

type friendshipRepository struct {
	store docstore.Store
}

func NewFriendshipRepository(store docstore.Store) FriendshipRepository {
	return &friendshipRepository{store: store}
}

func Key(owner, counterpart string) docstore.Key {
	return docstore.Doc("users", owner, "friendships", counterpart)
}

func Collection(owner string) string {
	return docstore.Collection("users", owner, "friendships")
}

// StagePut writes edge into b under its owner. initiator is the user who
// sent the original request; it is kept as the record's type after the
// request is accepted.
func StagePut(b *docstore.Batch, edge entity.FriendshipEdge, initiator string, pre docstore.Precondition) {
	rec := edgeRecord{
		Status:      "pending",
		Type:        "received",
		DisplayName: edge.DisplayName,
		PairKey:     entity.PairKey(edge.OwnerID, edge.CounterpartID),
	}
	if edge.Status == entity.StatusAccepted {
		rec.Status = "accepted"
	}
	if initiator == edge.OwnerID {
		rec.Type = "sent"
	}
	b.Set(Key(edge.OwnerID, edge.CounterpartID), rec, pre)
}

func StageDelete(b *docstore.Batch, owner, counterpart string, pre ...docstore.Precondition) {
	b.Delete(Key(owner, counterpart), pre...)
}

func (r *friendshipRepository) Find(ctx context.Context, owner, counterpart string) (*Edge, error) {
	doc, err := r.store.Get(ctx, Key(owner, counterpart))
	if err != nil {
		return nil, err
	}
	return DecodeEdge(doc)
}

func (r *friendshipRepository) FindPair(ctx context.Context, a, b string) (*Edge, *Edge, error) {
	own, err := r.Find(ctx, a, b)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, nil, err
	}
	mirror, err := r.Find(ctx, b, a)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, nil, err
	}
	return own, mirror, nil
}

func (r *friendshipRepository) ListByOwner(ctx context.Context, owner string) ([]*Edge, error) {
	docs, err := r.store.List(ctx, Collection(owner))
	if err != nil {
		return nil, err
	}
	edges := make([]*Edge, 0, len(docs))
	for _, doc := range docs {
		e, err := DecodeEdge(doc)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

func (r *friendshipRepository) Commit(ctx context.Context, b *docstore.Batch) error {
	return r.store.Commit(ctx, b)
}

// DecodeEdge turns a stored friendship document into an edge. A record whose
// status/type pair is unknown decodes with StatusNone.
func DecodeEdge(doc *docstore.Document) (*Edge, error) {
	owner, err := ownerOf(doc.Key)
	if err != nil {
		return nil, err
	}
	var rec edgeRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, err
	}
	return &Edge{
		FriendshipEdge: entity.FriendshipEdge{
			OwnerID:       owner,
			CounterpartID: doc.Key.ID,
			Status:        statusOf(rec),
			DisplayName:   rec.DisplayName,
			PairKey:       rec.PairKey,
			CreatedAt:     doc.CreateTime,
			UpdatedAt:     doc.UpdateTime,
		},
		Version: doc.Version,
	}, nil
}

func statusOf(rec edgeRecord) entity.EdgeStatus {
	switch {
	case rec.Status == "accepted":
		return entity.StatusAccepted
	case rec.Status == "pending" && rec.Type == "sent":
		return entity.StatusPendingSent
	case rec.Status == "pending" && rec.Type == "received":
		return entity.StatusPendingReceived
	}
	return entity.StatusNone
}

func ownerOf(k docstore.Key) (string, error) {
	parts := strings.Split(k.Collection, "/")
	if len(parts) != 3 || parts[0] != "users" || parts[2] != "friendships" {
		return "", fmt.Errorf("not a friendship document: %s", k)
	}
	return parts[1], nil
}
