package rounds

import (
	"sort"

	"github.com/google/uuid"
	"github.com/lastofguss/guss/internal/models"
)

// RoundSummary is a round plus its derived status at read time.
type RoundSummary struct {
	models.Round
	Status models.RoundStatus `json:"status"`
}

// RoundDetails is the full snapshot returned by GetRound.
// MyScore carries the stored value even for the exempt role; the presentation
// boundary is responsible for zeroing it there.
type RoundDetails struct {
	RoundSummary
	MyScore int            `json:"myScore"`
	MyTaps  int            `json:"myTaps"`
	Winner  *models.Winner `json:"winner,omitempty"`
}

// RoundPage is one page of rounds ordered by creation time, newest first.
type RoundPage struct {
	Items      []RoundSummary `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"totalPages"`
}

// TapResult is what a tap returns to the caller. Score is forced to 0 for the
// exempt role; Taps is always truthful.
type TapResult struct {
	Score int `json:"score"`
	Taps  int `json:"taps"`
}

// ParticipantScore is one leaderboard row of a round.
type ParticipantScore struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Taps     int       `json:"taps"`
	Score    int       `json:"score"`
}

// PickWinner selects the winner from a round's participants: the first entry
// in stable descending-score order, reported only when its score is above
// zero. An empty or all-zero leaderboard has no winner.
func PickWinner(participants []ParticipantScore) *models.Winner {
	if len(participants) == 0 {
		return nil
	}
	ranked := make([]ParticipantScore, len(participants))
	copy(ranked, participants)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	top := ranked[0]
	if top.Score <= 0 {
		return nil
	}
	return &models.Winner{Username: top.Username, Score: top.Score}
}
