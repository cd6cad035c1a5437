package service

import (
	"context"
	"errors"
	"strings"

	"anoa.com/fellowship/internal/entity"
	engagementDto "anoa.com/fellowship/internal/modules/engagement/dto"
	engagementRepo "anoa.com/fellowship/internal/modules/engagement/repository"
	"anoa.com/fellowship/pkg/apperror"
	"anoa.com/fellowship/pkg/retry"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
)

// EngagementService applies likes and comments to discussions. Every command
// that touches a counter runs as one optimistic transaction over the counter
// document and the records it summarizes, retried on conflict.
type EngagementService interface {
	CreateDiscussion(ctx context.Context, principal string, input engagementDto.CreateDiscussionInput) (*entity.Discussion, error)
	GetDiscussion(ctx context.Context, discussionID string) (*entity.Discussion, error)
	ListDiscussions(ctx context.Context) ([]entity.Discussion, error)
	DeleteDiscussion(ctx context.Context, principal, discussionID string) error
	ToggleLike(ctx context.Context, discussionID, principal string) (*entity.LikeState, error)
	AddComment(ctx context.Context, principal, discussionID string, input engagementDto.CreateCommentInput) (*entity.Comment, error)
	DeleteComment(ctx context.Context, principal, discussionID, commentID string) error
}

// NameResolver looks up the author names denormalized into discussions and
// comments.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Indexer mirrors discussions into the search index. Failures never fail the
// command that triggered them.
type Indexer interface {
	IndexDiscussion(d *entity.Discussion) error
	DeleteDiscussion(discussionID string) error
}

type engagementService struct {
	repo      engagementRepo.DiscussionRepository
	names     NameResolver
	indexer   Indexer
	attempts  int
	sanitizer *bluemonday.Policy
	log       *zap.Logger
}

// NewEngagementService builds the service. indexer may be nil.
func NewEngagementService(repo engagementRepo.DiscussionRepository, names NameResolver, indexer Indexer, attempts int, log *zap.Logger) EngagementService {
	return &engagementService{
		repo:      repo,
		names:     names,
		indexer:   indexer,
		attempts:  attempts,
		sanitizer: bluemonday.StrictPolicy(),
		log:       log,
	}
}

func (s *engagementService) clean(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

func (s *engagementService) authorName(ctx context.Context, userID string) string {
	name, err := s.names.DisplayName(ctx, userID)
	if err != nil {
		s.log.Warn("display name lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	if name == "" {
		return userID
	}
	return name
}

func (s *engagementService) CreateDiscussion(ctx context.Context, principal string, input engagementDto.CreateDiscussionInput) (*entity.Discussion, error) {
	title := s.clean(input.Title)
	content := s.clean(input.Content)
	if title == "" || content == "" {
		return nil, apperror.Invalid("title and content are required")
	}
	tags := make([]string, 0, len(input.Tags))
	for _, t := range input.Tags {
		if t = strings.ToLower(s.clean(t)); t != "" {
			tags = append(tags, t)
		}
	}

	d := &entity.Discussion{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Title:      title,
		Content:    content,
		AuthorID:   principal,
		AuthorName: s.authorName(ctx, principal),
		Tags:       tags,
		LikedBy:    []string{},
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	created, err := s.repo.FindByID(ctx, d.ID)
	if err != nil {
		return nil, err
	}

	s.index(created)
	return created, nil
}

func (s *engagementService) GetDiscussion(ctx context.Context, discussionID string) (*entity.Discussion, error) {
	return s.repo.FindByID(ctx, discussionID)
}

func (s *engagementService) ListDiscussions(ctx context.Context) ([]entity.Discussion, error) {
	return s.repo.List(ctx)
}

func (s *engagementService) DeleteDiscussion(ctx context.Context, principal, discussionID string) error {
	err := retry.OnConflict(ctx, s.attempts, func() error {
		return s.repo.Transaction(ctx, func(ctx context.Context, tx *engagementRepo.Tx) error {
			d, err := tx.Discussion(ctx, discussionID)
			if err != nil {
				return err
			}
			if d.AuthorID != principal {
				return apperror.Forbidden("only the author can delete this discussion")
			}
			comments, err := tx.Comments(ctx, discussionID)
			if err != nil {
				return err
			}
			for _, c := range comments {
				tx.DeleteComment(discussionID, c.ID)
			}
			tx.DeleteDiscussion(discussionID)
			return nil
		})
	})
	if err != nil {
		return err
	}

	if s.indexer != nil {
		if err := s.indexer.DeleteDiscussion(discussionID); err != nil {
			s.log.Warn("failed to remove discussion from search index", zap.String("discussion_id", discussionID), zap.Error(err))
		}
	}
	return nil
}

func (s *engagementService) ToggleLike(ctx context.Context, discussionID, principal string) (*entity.LikeState, error) {
	if principal == "" {
		return nil, apperror.Invalid("principal is required")
	}

	var state *entity.LikeState
	err := retry.OnConflict(ctx, s.attempts, func() error {
		return s.repo.Transaction(ctx, func(ctx context.Context, tx *engagementRepo.Tx) error {
			d, err := tx.Discussion(ctx, discussionID)
			if err != nil {
				return err
			}

			liked := !d.LikedByPrincipal(principal)
			if liked {
				d.LikedBy = append(d.LikedBy, principal)
			} else {
				kept := d.LikedBy[:0]
				for _, id := range d.LikedBy {
					if id != principal {
						kept = append(kept, id)
					}
				}
				d.LikedBy = kept
			}
			// the stored counter is derived, never incremented
			d.Likes = len(d.LikedBy)
			tx.UpdateDiscussion(d)

			state = &entity.LikeState{DiscussionID: discussionID, Liked: liked, Likes: d.Likes}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *engagementService) AddComment(ctx context.Context, principal, discussionID string, input engagementDto.CreateCommentInput) (*entity.Comment, error) {
	content := s.clean(input.Content)
	if content == "" {
		return nil, apperror.Invalid("comment content is required")
	}

	comment := &entity.Comment{
		ID:           uuid.Must(uuid.NewV7()).String(),
		DiscussionID: discussionID,
		Content:      content,
		AuthorID:     principal,
		AuthorName:   s.authorName(ctx, principal),
	}

	err := retry.OnConflict(ctx, s.attempts, func() error {
		return s.repo.Transaction(ctx, func(ctx context.Context, tx *engagementRepo.Tx) error {
			d, err := tx.Discussion(ctx, discussionID)
			if err != nil {
				return err
			}

			comment.ParentCommentID = nil
			comment.ReplyToAuthorName = nil
			if input.ParentCommentID != "" {
				root, replyTo, err := resolveRoot(ctx, tx, discussionID, input.ParentCommentID)
				if err != nil {
					return err
				}
				rootID := root.ID
				comment.ParentCommentID = &rootID
				comment.ReplyToAuthorName = replyTo
				root.ReplyCount++
				tx.UpdateComment(root)
			}

			d.CommentCount++
			tx.UpdateDiscussion(d)
			tx.CreateComment(comment)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return s.repo.FindComment(ctx, discussionID, comment.ID)
}

// resolveRoot finds the top-level comment a new reply attaches to. Replying
// to a reply lands on that reply's root and names the replied-to author.
func resolveRoot(ctx context.Context, tx *engagementRepo.Tx, discussionID, parentID string) (*entity.Comment, *string, error) {
	parent, err := tx.Comment(ctx, discussionID, parentID)
	if err != nil {
		return nil, nil, err
	}
	if !parent.IsReply() {
		return parent, nil, nil
	}

	root, err := tx.Comment(ctx, discussionID, *parent.ParentCommentID)
	if err != nil {
		return nil, nil, err
	}
	replyTo := parent.AuthorName
	return root, &replyTo, nil
}

func (s *engagementService) DeleteComment(ctx context.Context, principal, discussionID, commentID string) error {
	return retry.OnConflict(ctx, s.attempts, func() error {
		return s.repo.Transaction(ctx, func(ctx context.Context, tx *engagementRepo.Tx) error {
			d, err := tx.Discussion(ctx, discussionID)
			if err != nil {
				return err
			}
			c, err := tx.Comment(ctx, discussionID, commentID)
			if err != nil {
				return err
			}
			if c.AuthorID != principal && d.AuthorID != principal {
				return apperror.Forbidden("only the comment or discussion author can delete this comment")
			}

			removed := 1
			if c.IsReply() {
				parent, err := tx.Comment(ctx, discussionID, *c.ParentCommentID)
				switch {
				case err == nil:
					parent.ReplyCount = max(parent.ReplyCount-1, 0)
					tx.UpdateComment(parent)
				case !errors.Is(err, apperror.ErrNotFound):
					return err
				}
			} else {
				comments, err := tx.Comments(ctx, discussionID)
				if err != nil {
					return err
				}
				for _, r := range comments {
					if r.ParentCommentID != nil && *r.ParentCommentID == c.ID {
						tx.DeleteComment(discussionID, r.ID)
						removed++
					}
				}
			}

			tx.DeleteComment(discussionID, c.ID)
			d.CommentCount = max(d.CommentCount-removed, 0)
			tx.UpdateDiscussion(d)
			return nil
		})
	})
}

func (s *engagementService) index(d *entity.Discussion) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.IndexDiscussion(d); err != nil {
		s.log.Warn("failed to index discussion", zap.String("discussion_id", d.ID), zap.Error(err))
	}
}
