package events

import (
	"time"

	"github.com/lastofguss/guss/internal/models"
)

// Event payload types shared between the game core, the scheduler and the
// transports that relay them.

// RoundCreatedPayload is the payload for a round:created event.
type RoundCreatedPayload struct {
	Round models.Round `json:"round"`
}

// RoundStartedPayload is the payload for a round:started event.
type RoundStartedPayload struct {
	Round     models.Round `json:"round"`
	StartedAt time.Time    `json:"startedAt"`
}

// RoundFinishedPayload is the payload for a round:finished event.
// Winner is nil when nobody scored.
type RoundFinishedPayload struct {
	Round      models.Round   `json:"round"`
	Winner     *models.Winner `json:"winner,omitempty"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// ScoreUpdatedPayload is the payload for a round:score-updated event.
// It deliberately carries no personal fields; clients pull their own snapshot.
type ScoreUpdatedPayload struct {
	TotalScore int `json:"totalScore"`
}
