package models

import (
	"time"

	"github.com/google/uuid"
)

// RoundStatus defines the phase of a round at a given instant.
type RoundStatus string

const (
	RoundStatusCooldown RoundStatus = "cooldown"
	RoundStatusActive   RoundStatus = "active"
	RoundStatusFinished RoundStatus = "finished"
)

// Round represents one timed tapping session.
// Status is intentionally not a field: it is always derived from the
// timestamps so a stored value can never go stale.
type Round struct {
	ID         uuid.UUID `json:"id"`
	StartAt    time.Time `json:"startAt"`
	EndAt      time.Time `json:"endAt"`
	TotalScore int       `json:"totalScore"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StatusAt maps an instant to the round's phase.
// The boundaries are exact: now == StartAt is active, now == EndAt is finished.
func (r *Round) StatusAt(now time.Time) RoundStatus {
	if now.Before(r.StartAt) {
		return RoundStatusCooldown
	}
	if now.Before(r.EndAt) {
		return RoundStatusActive
	}
	return RoundStatusFinished
}

// Winner is the top scorer of a finished round. Derived, never persisted.
type Winner struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}
