package thread

import (
	"context"

	repo "anoa.com/fellowship/internal/modules/thread/repository"
	"anoa.com/fellowship/pkg/apperror"
	"go.uber.org/zap"
)

type Service interface {
	GetThread(ctx context.Context, discussionID string) (*Thread, error)
}

type service struct {
	repo repo.Repository
	log  *zap.Logger
}

func NewService(repo repo.Repository, log *zap.Logger) Service {
	return &service{repo: repo, log: log}
}

func (s *service) GetThread(ctx context.Context, discussionID string) (*Thread, error) {
	exists, err := s.repo.DiscussionExists(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperror.NotFound("discussion not found")
	}

	comments, err := s.repo.ListComments(ctx, discussionID)
	if err != nil {
		return nil, err
	}
	t := Assemble(discussionID, comments)
	if len(t.Orphans) > 0 {
		s.log.Warn("thread has orphaned replies",
			zap.String("discussion_id", discussionID),
			zap.Strings("comment_ids", t.Orphans),
		)
	}
	return &t, nil
}
