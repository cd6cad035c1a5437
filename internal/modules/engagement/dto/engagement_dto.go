package dto

type CreateDiscussionInput struct {
	Title   string   `json:"title" binding:"required,min=3,max=200"`
	Content string   `json:"content" binding:"required,max=20000"`
	Tags    []string `json:"tags" binding:"max=10,dive,max=30"`
}

type CreateCommentInput struct {
	Content         string `json:"content" binding:"required,max=5000"`
	ParentCommentID string `json:"parent_comment_id"`
}
