package dto

type SendRequestInput struct {
	UserID      string `json:"user_id" binding:"required"`
	DisplayName string `json:"display_name" binding:"max=80"`
}

type PendingQuery struct {
	Direction string `form:"direction" binding:"omitempty,oneof=sent received"`
}
