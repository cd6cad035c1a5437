package entity

import (
	"sort"
	"strings"
	"time"
)

// EdgeStatus is the state of a friendship as seen from one owner.
type EdgeStatus string

const (
	StatusNone            EdgeStatus = "none"
	StatusPendingSent     EdgeStatus = "pending-sent"
	StatusPendingReceived EdgeStatus = "pending-received"
	StatusAccepted        EdgeStatus = "accepted"
	// StatusDeclined is transient: a declined pair is stored as two absent
	// records and reads back as StatusNone.
	StatusDeclined EdgeStatus = "declined"
)

// Mirror returns the status the counterpart's record must carry.
func (s EdgeStatus) Mirror() EdgeStatus {
	switch s {
	case StatusPendingSent:
		return StatusPendingReceived
	case StatusPendingReceived:
		return StatusPendingSent
	case StatusAccepted:
		return StatusAccepted
	}
	return StatusNone
}

// Reconcilable reports whether two mirrored statuses describe the same
// relationship.
func Reconcilable(own, mirror EdgeStatus) bool {
	if own == StatusNone || own == StatusDeclined {
		return mirror == StatusNone || mirror == StatusDeclined
	}
	return own.Mirror() == mirror
}

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// Status returns the pending status matching the direction.
func (d Direction) Status() EdgeStatus {
	if d == DirectionSent {
		return StatusPendingSent
	}
	return StatusPendingReceived
}

// FriendshipEdge is one half of a mirrored relationship, owned by OwnerID.
type FriendshipEdge struct {
	OwnerID       string     `json:"owner_id"`
	CounterpartID string     `json:"counterpart_id"`
	Status        EdgeStatus `json:"status"`
	DisplayName   string     `json:"display_name"`
	PairKey       string     `json:"pair_key"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PairKey joins the two records of a relationship. It is the same whichever
// side computes it.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
