package entity

import "time"

type NotificationKind string

const KindFriendRequest NotificationKind = "friend-request"

type Notification struct {
	ID             string           `json:"id"`
	RecipientID    string           `json:"recipient_id"`
	Kind           NotificationKind `json:"kind"`
	OriginatorID   string           `json:"originator_id"`
	OriginatorName string           `json:"originator_name"`
	Read           bool             `json:"read"`
	CreatedAt      time.Time        `json:"created_at"`
}
