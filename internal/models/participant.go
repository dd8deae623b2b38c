package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is the per-user tally within one round.
// At most one row exists per (round, user) pair; it is created lazily on the
// user's first tap.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	RoundID   uuid.UUID `json:"roundId"`
	UserID    uuid.UUID `json:"userId"`
	Taps      int       `json:"taps"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
