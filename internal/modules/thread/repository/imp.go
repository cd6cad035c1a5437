package thread

import (
	"context"
	"errors"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
)

type repository struct {
	store docstore.Store
}

func NewRepository(store docstore.Store) Repository {
	return &repository{store: store}
}

func (r *repository) ListComments(ctx context.Context, discussionID string) ([]entity.Comment, error) {
	docs, err := r.store.List(ctx, CommentsCollection(discussionID))
	if err != nil {
		return nil, err
	}
	comments := make([]entity.Comment, 0, len(docs))
	for _, doc := range docs {
		c, err := DecodeComment(doc)
		if err != nil {
			return nil, err
		}
		comments = append(comments, *c)
	}
	return comments, nil
}

func (r *repository) DiscussionExists(ctx context.Context, discussionID string) (bool, error) {
	_, err := r.store.Get(ctx, DiscussionKey(discussionID))
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
