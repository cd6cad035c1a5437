package repository

import (
	"context"
	"errors"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
	threadRepo "anoa.com/fellowship/internal/modules/thread/repository"
	"anoa.com/fellowship/pkg/apperror"
)

const discussionsCollection = "discussions"

// discussionRecord is the stored shape under discussions/{id}.
type discussionRecord struct {
	Title        string   `json:"title"`
	Content      string   `json:"content"`
	AuthorID     string   `json:"authorId"`
	AuthorName   string   `json:"authorName"`
	Likes        int      `json:"likes"`
	CommentCount int      `json:"commentCount"`
	Tags         []string `json:"tags"`
	LikedBy      []string `json:"likedBy"`
}

// DiscussionRepository stores discussions and their comments. Multi-document
// changes go through Transaction so that counters and records move together.
type DiscussionRepository interface {
	Create(ctx context.Context, d *entity.Discussion) error
	FindByID(ctx context.Context, id string) (*entity.Discussion, error)
	FindComment(ctx context.Context, discussionID, commentID string) (*entity.Comment, error)
	List(ctx context.Context) ([]entity.Discussion, error)
	Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error
}

type discussionRepository struct {
	store docstore.Store
}

func NewDiscussionRepository(store docstore.Store) DiscussionRepository {
	return &discussionRepository{store: store}
}

func record(d *entity.Discussion) discussionRecord {
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	likedBy := d.LikedBy
	if likedBy == nil {
		likedBy = []string{}
	}
	return discussionRecord{
		Title:        d.Title,
		Content:      d.Content,
		AuthorID:     d.AuthorID,
		AuthorName:   d.AuthorName,
		Likes:        d.Likes,
		CommentCount: d.CommentCount,
		Tags:         tags,
		LikedBy:      likedBy,
	}
}

// DecodeDiscussion turns a stored discussion document into the entity.
func DecodeDiscussion(doc *docstore.Document) (*entity.Discussion, error) {
	var rec discussionRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, err
	}
	return &entity.Discussion{
		ID:           doc.Key.ID,
		Title:        rec.Title,
		Content:      rec.Content,
		AuthorID:     rec.AuthorID,
		AuthorName:   rec.AuthorName,
		Tags:         rec.Tags,
		Likes:        rec.Likes,
		CommentCount: rec.CommentCount,
		LikedBy:      rec.LikedBy,
		CreatedAt:    doc.CreateTime,
		UpdatedAt:    doc.UpdateTime,
	}, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return apperror.NotFound(what + " not found")
	}
	return err
}

func (r *discussionRepository) Create(ctx context.Context, d *entity.Discussion) error {
	return r.store.Commit(ctx, docstore.NewBatch().Create(threadRepo.DiscussionKey(d.ID), record(d)))
}

func (r *discussionRepository) FindByID(ctx context.Context, id string) (*entity.Discussion, error) {
	doc, err := r.store.Get(ctx, threadRepo.DiscussionKey(id))
	if err != nil {
		return nil, notFound(err, "discussion")
	}
	return DecodeDiscussion(doc)
}

func (r *discussionRepository) FindComment(ctx context.Context, discussionID, commentID string) (*entity.Comment, error) {
	doc, err := r.store.Get(ctx, threadRepo.CommentKey(discussionID, commentID))
	if err != nil {
		return nil, notFound(err, "comment")
	}
	return threadRepo.DecodeComment(doc)
}

// List returns every discussion, newest first.
func (r *discussionRepository) List(ctx context.Context) ([]entity.Discussion, error) {
	docs, err := r.store.List(ctx, discussionsCollection)
	if err != nil {
		return nil, err
	}
	out := make([]entity.Discussion, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		d, err := DecodeDiscussion(docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (r *discussionRepository) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	return docstore.RunTransaction(ctx, r.store, func(ctx context.Context, txn *docstore.Txn) error {
		return fn(ctx, &Tx{txn: txn})
	})
}

// Tx exposes discussion and comment reads and writes inside one optimistic
// transaction.
type Tx struct {
	txn *docstore.Txn
}

func (t *Tx) Discussion(ctx context.Context, id string) (*entity.Discussion, error) {
	doc, err := t.txn.Get(ctx, threadRepo.DiscussionKey(id))
	if err != nil {
		return nil, notFound(err, "discussion")
	}
	return DecodeDiscussion(doc)
}

func (t *Tx) Comment(ctx context.Context, discussionID, commentID string) (*entity.Comment, error) {
	doc, err := t.txn.Get(ctx, threadRepo.CommentKey(discussionID, commentID))
	if err != nil {
		return nil, notFound(err, "comment")
	}
	return threadRepo.DecodeComment(doc)
}

func (t *Tx) Comments(ctx context.Context, discussionID string) ([]entity.Comment, error) {
	docs, err := t.txn.List(ctx, threadRepo.CommentsCollection(discussionID))
	if err != nil {
		return nil, err
	}
	out := make([]entity.Comment, 0, len(docs))
	for _, doc := range docs {
		c, err := threadRepo.DecodeComment(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (t *Tx) UpdateDiscussion(d *entity.Discussion) {
	t.txn.Update(threadRepo.DiscussionKey(d.ID), record(d))
}

func (t *Tx) DeleteDiscussion(id string) {
	t.txn.Delete(threadRepo.DiscussionKey(id))
}

func (t *Tx) CreateComment(c *entity.Comment) {
	t.txn.Create(threadRepo.CommentKey(c.DiscussionID, c.ID), threadRepo.CommentRecord(c))
}

func (t *Tx) UpdateComment(c *entity.Comment) {
	t.txn.Update(threadRepo.CommentKey(c.DiscussionID, c.ID), threadRepo.CommentRecord(c))
}

func (t *Tx) DeleteComment(discussionID, commentID string) {
	t.txn.Delete(threadRepo.CommentKey(discussionID, commentID))
}
