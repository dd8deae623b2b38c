package rounds

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lastofguss/guss/internal/events"
	"github.com/lastofguss/guss/internal/models"
	"github.com/rs/zerolog/log"
)

// Tap bonus policy: every 11th cumulative tap by a participant is worth 10
// points instead of 1.
const (
	BonusTapDivisor = 11
	BonusTapValue   = 10
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Store defines what the app layer needs from the repository.
type Store interface {
	CreateRound(ctx context.Context, round models.Round) (*models.Round, error)
	GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error)
	ListRounds(ctx context.Context, limit, offset int) ([]models.Round, int, error)
	ListParticipants(ctx context.Context, roundID uuid.UUID) ([]ParticipantScore, error)
	TapUpdate(ctx context.Context, roundID, userID uuid.UUID, fn func(round *models.Round, participant *models.Participant) error) (*models.Round, *models.Participant, error)
}

// Config holds the timing policy for new rounds.
type Config struct {
	RoundDuration    time.Duration
	CooldownDuration time.Duration
}

// App handles round business logic: creation, listing, snapshots and the tap
// aggregation path.
type App struct {
	store Store
	bus   *events.Bus
	clock clockwork.Clock
	cfg   Config
}

// NewApp creates a new rounds App.
func NewApp(store Store, bus *events.Bus, clock clockwork.Clock, cfg Config) *App {
	return &App{
		store: store,
		bus:   bus,
		clock: clock,
		cfg:   cfg,
	}
}

// CreateRound creates a round starting after the configured cooldown.
// Only admins may create rounds.
func (a *App) CreateRound(ctx context.Context, principal *models.User) (*RoundSummary, error) {
	if principal == nil || principal.Role != models.UserRoleAdmin {
		return nil, ErrUnauthorized
	}

	now := a.clock.Now().UTC()
	startAt := now.Add(a.cfg.CooldownDuration)
	round, err := a.store.CreateRound(ctx, models.Round{
		ID:      uuid.New(),
		StartAt: startAt,
		EndAt:   startAt.Add(a.cfg.RoundDuration),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}

	log.Info().
		Str("round_id", round.ID.String()).
		Time("start_at", round.StartAt).
		Time("end_at", round.EndAt).
		Str("created_by", principal.Username).
		Msg("round created")

	a.bus.PublishJSON(events.TypeRoundCreated, round.ID, events.RoundCreatedPayload{Round: *round})
	a.bus.PublishJSON(events.TypeListRefresh, uuid.Nil, nil)

	return a.summarize(round), nil
}

// ListRounds returns one page of rounds ordered by creation time, descending.
func (a *App) ListRounds(ctx context.Context, page, limit int) (*RoundPage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	rounds, total, err := a.store.ListRounds(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}

	items := make([]RoundSummary, 0, len(rounds))
	for i := range rounds {
		items = append(items, *a.summarize(&rounds[i]))
	}

	totalPages := (total + limit - 1) / limit
	if totalPages == 0 {
		totalPages = 1
	}
	return &RoundPage{
		Items:      items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// GetRound returns a lock-free snapshot of a round: derived status, the
// requesting user's personal counters (zero-valued if the user never tapped)
// and, once the round is finished, the winner. userID may be uuid.Nil.
//
// The snapshot always carries the stored personal score, including for the
// exempt role; hiding it from that role is the presentation boundary's job.
func (a *App) GetRound(ctx context.Context, roundID, userID uuid.UUID) (*RoundDetails, error) {
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}

	participants, err := a.store.ListParticipants(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}

	details := &RoundDetails{RoundSummary: *a.summarize(round)}
	if userID != uuid.Nil {
		for _, p := range participants {
			if p.UserID == userID {
				details.MyScore = p.Score
				details.MyTaps = p.Taps
				break
			}
		}
	}
	if details.Status == models.RoundStatusFinished {
		details.Winner = PickWinner(participants)
	}
	return details, nil
}

// Tap registers one tap by principal on the given round.
//
// The whole operation runs in a single transaction that holds the round row
// lock and then the participant row lock, so concurrent taps on one round are
// strictly serialized and no update is ever lost. Status is re-derived inside
// the lock; cooldown and finished rounds reject the tap and leave every
// counter untouched.
func (a *App) Tap(ctx context.Context, roundID uuid.UUID, principal *models.User) (*TapResult, error) {
	round, participant, err := a.store.TapUpdate(ctx, roundID, principal.ID, func(round *models.Round, p *models.Participant) error {
		switch round.StatusAt(a.clock.Now()) {
		case models.RoundStatusCooldown:
			return ErrRoundNotStarted
		case models.RoundStatusFinished:
			return ErrRoundFinished
		}

		p.Taps++
		points := 1
		if p.Taps%BonusTapDivisor == 0 {
			points = BonusTapValue
		}
		// The exempt role's taps are counted but never scored, on either the
		// personal score or the round total.
		if principal.Role != models.UserRoleNikita {
			p.Score += points
			round.TotalScore += points
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Post-commit, best effort: a lost notification never fails the tap.
	a.bus.PublishJSON(events.TypeScoreUpdated, round.ID, events.ScoreUpdatedPayload{TotalScore: round.TotalScore})

	result := &TapResult{Score: participant.Score, Taps: participant.Taps}
	if principal.Role == models.UserRoleNikita {
		result.Score = 0
	}
	return result, nil
}

func (a *App) summarize(round *models.Round) *RoundSummary {
	return &RoundSummary{
		Round:  *round,
		Status: round.StatusAt(a.clock.Now()),
	}
}
