package subscription

import (
	"context"
	"errors"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
	engagementRepo "anoa.com/fellowship/internal/modules/engagement/repository"
	thread "anoa.com/fellowship/internal/modules/thread/service"
	threadRepo "anoa.com/fellowship/internal/modules/thread/repository"
	"anoa.com/fellowship/pkg/apperror"
)

// ThreadView is the assembled comment tree plus the discussion's like state.
// Deleted is set once the discussion itself is gone.
type ThreadView struct {
	thread.Thread
	Likes        int      `json:"likes"`
	LikedBy      []string `json:"liked_by"`
	CommentCount int      `json:"comment_count"`
	Deleted      bool     `json:"deleted,omitempty"`
}

type threadProjection struct {
	discussionID string
	store        docstore.Store

	discussion *entity.Discussion
	comments   map[string]entity.Comment
	seen       versions
}

// SubscribeThread streams the assembled thread of a discussion. The
// discussion must exist when subscribing.
func (h *Hub) SubscribeThread(ctx context.Context, discussionID string) (*Subscription, error) {
	if discussionID == "" {
		return nil, apperror.Invalid("discussion id is required")
	}
	return h.start(ctx, &threadProjection{
		discussionID: discussionID,
		store:        h.store,
		comments:     make(map[string]entity.Comment),
		seen:         make(versions),
	})
}

func (p *threadProjection) collections() []string {
	return []string{
		threadRepo.DiscussionKey(p.discussionID).Collection,
		threadRepo.CommentsCollection(p.discussionID),
	}
}

func (p *threadProjection) resync(ctx context.Context) error {
	doc, err := p.store.Get(ctx, threadRepo.DiscussionKey(p.discussionID))
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		if p.discussion == nil && len(p.seen) == 0 {
			return apperror.NotFound("discussion not found")
		}
		p.discussion = nil
	case err != nil:
		return err
	default:
		d, err := engagementRepo.DecodeDiscussion(doc)
		if err != nil {
			return err
		}
		p.discussion = d
		p.seen.advance(doc.Key, doc.Version)
	}

	docs, err := p.store.List(ctx, threadRepo.CommentsCollection(p.discussionID))
	if err != nil {
		return err
	}
	p.comments = make(map[string]entity.Comment, len(docs))
	for _, doc := range docs {
		c, err := threadRepo.DecodeComment(doc)
		if err != nil {
			return err
		}
		p.comments[c.ID] = *c
		p.seen.advance(doc.Key, doc.Version)
	}
	return nil
}

func (p *threadProjection) apply(c docstore.Change) (bool, error) {
	discussionKey := threadRepo.DiscussionKey(p.discussionID)
	if c.Key.Collection == discussionKey.Collection && c.Key != discussionKey {
		// another discussion in the shared collection
		return false, nil
	}
	if !p.seen.advance(c.Key, c.Version) {
		return false, nil
	}

	if c.Key == discussionKey {
		if c.Type == docstore.Removed {
			p.discussion = nil
			return true, nil
		}
		d, err := engagementRepo.DecodeDiscussion(c.Document)
		if err != nil {
			return false, err
		}
		p.discussion = d
		return true, nil
	}

	if c.Type == docstore.Removed {
		_, had := p.comments[c.Key.ID]
		delete(p.comments, c.Key.ID)
		return had, nil
	}
	comment, err := threadRepo.DecodeComment(c.Document)
	if err != nil {
		return false, err
	}
	p.comments[comment.ID] = *comment
	return true, nil
}

func (p *threadProjection) snapshot(context.Context) Update {
	comments := make([]entity.Comment, 0, len(p.comments))
	for _, c := range p.comments {
		comments = append(comments, c)
	}

	view := &ThreadView{
		Thread:  thread.Assemble(p.discussionID, comments),
		LikedBy: []string{},
	}
	if p.discussion == nil {
		view.Deleted = true
	} else {
		view.Likes = p.discussion.Likes
		view.LikedBy = append(view.LikedBy, p.discussion.LikedBy...)
		view.CommentCount = p.discussion.CommentCount
	}
	return Update{Thread: view}
}
