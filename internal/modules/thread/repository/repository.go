package thread

import (
	"context"
	"fmt"
	"strings"

	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/entity"
)

// Repository reads the comment collection of a discussion.
type Repository interface {
	ListComments(ctx context.Context, discussionID string) ([]entity.Comment, error)
	DiscussionExists(ctx context.Context, discussionID string) (bool, error)
}

// commentRecord is the stored shape under discussions/{id}/comments/{id}.
type commentRecord struct {
	Content           string  `json:"content"`
	AuthorID          string  `json:"authorId"`
	AuthorName        string  `json:"authorName"`
	ParentCommentID   *string `json:"parentCommentId,omitempty"`
	ReplyToAuthorName *string `json:"replyToAuthorName,omitempty"`
	ReplyCount        int     `json:"replyCount"`
}

func DiscussionKey(discussionID string) docstore.Key {
	return docstore.Doc("discussions", discussionID)
}

func CommentKey(discussionID, commentID string) docstore.Key {
	return docstore.Doc("discussions", discussionID, "comments", commentID)
}

func CommentsCollection(discussionID string) string {
	return docstore.Collection("discussions", discussionID, "comments")
}

// CommentRecord returns the stored form of c.
func CommentRecord(c *entity.Comment) any {
	return commentRecord{
		Content:           c.Content,
		AuthorID:          c.AuthorID,
		AuthorName:        c.AuthorName,
		ParentCommentID:   c.ParentCommentID,
		ReplyToAuthorName: c.ReplyToAuthorName,
		ReplyCount:        c.ReplyCount,
	}
}

func DecodeComment(doc *docstore.Document) (*entity.Comment, error) {
	parts := strings.Split(doc.Key.Collection, "/")
	if len(parts) != 3 || parts[0] != "discussions" || parts[2] != "comments" {
		return nil, fmt.Errorf("not a comment document: %s", doc.Key)
	}
	var rec commentRecord
	if err := doc.DataTo(&rec); err != nil {
		return nil, err
	}
	return &entity.Comment{
		ID:                doc.Key.ID,
		DiscussionID:      parts[1],
		Content:           rec.Content,
		AuthorID:          rec.AuthorID,
		AuthorName:        rec.AuthorName,
		ParentCommentID:   rec.ParentCommentID,
		ReplyToAuthorName: rec.ReplyToAuthorName,
		ReplyCount:        rec.ReplyCount,
		CreatedAt:         doc.CreateTime,
	}, nil
}
