package entity

import "time"

type Discussion struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name"`
	Tags         []string  `json:"tags"`
	Likes        int       `json:"likes"`
	CommentCount int       `json:"comment_count"`
	LikedBy      []string  `json:"liked_by"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LikedByPrincipal reports whether principal is in LikedBy.
func (d *Discussion) LikedByPrincipal(principal string) bool {
	for _, id := range d.LikedBy {
		if id == principal {
			return true
		}
	}
	return false
}

// Comment belongs to a discussion. A nil ParentCommentID marks a top-level
// comment; replies always point at a top-level comment.
type Comment struct {
	ID                string    `json:"id"`
	DiscussionID      string    `json:"discussion_id"`
	Content           string    `json:"content"`
	AuthorID          string    `json:"author_id"`
	AuthorName        string    `json:"author_name"`
	ParentCommentID   *string   `json:"parent_comment_id,omitempty"`
	ReplyToAuthorName *string   `json:"reply_to_author_name,omitempty"`
	ReplyCount        int       `json:"reply_count"`
	CreatedAt         time.Time `json:"created_at"`
}

func (c *Comment) IsReply() bool {
	return c.ParentCommentID != nil
}

// LikeState is the outcome of a like toggle.
type LikeState struct {
	DiscussionID string `json:"discussion_id"`
	Liked        bool   `json:"liked"`
	Likes        int    `json:"likes"`
}
