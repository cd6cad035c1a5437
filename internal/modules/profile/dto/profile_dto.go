package dto

// UpdateProfileInput represents the input for updating the caller's profile
type UpdateProfileInput struct {
	DisplayName string `json:"display_name" binding:"required,min=1,max=80"`
}
