package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lastofguss/guss/internal/events"
	"github.com/lastofguss/guss/internal/models"
	"github.com/lastofguss/guss/internal/rounds"
	"github.com/rs/zerolog/log"
)

// Store defines what the scheduler needs from the round store.
type Store interface {
	ListUpcoming(ctx context.Context, now, horizon time.Time) ([]models.Round, error)
	WithRoundLock(ctx context.Context, roundID uuid.UUID, fn func(ctx context.Context, locked rounds.LockedRound) error) error
}

// Config holds the scheduler's timing knobs.
type Config struct {
	// Interval is the reconciliation period.
	Interval time.Duration
	// Lookahead is how far ahead of now boundaries get armed.
	Lookahead time.Duration
	// Tolerance is the maximum skew between a timer firing and its boundary
	// for the firing to still count.
	Tolerance time.Duration
}

// DefaultConfig returns the production timing configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Second,
		Lookahead: 5 * time.Second,
		Tolerance: time.Second,
	}
}

type boundary int

const (
	boundaryStart boundary = iota
	boundaryEnd
)

func (b boundary) String() string {
	if b == boundaryStart {
		return "start"
	}
	return "end"
}

type armedRound struct {
	start  clockwork.Timer // nil when the start boundary already passed
	end    clockwork.Timer
	cancel chan struct{}
}

// Scheduler fires round:started and round:finished notifications at round
// boundaries. The periodic reconciliation scan is the source of truth and
// recovers state after restarts; the one-shot timers only exist to hit the
// boundary more precisely than the scan interval allows. Every firing is
// re-validated against the stored round under its row lock before anything
// becomes externally visible, so a stale timer fizzles instead of
// rebroadcasting.
type Scheduler struct {
	store Store
	bus   *events.Bus
	clock clockwork.Clock
	cfg   Config

	mu    sync.Mutex
	armed map[uuid.UUID]*armedRound
}

// New creates a scheduler. Pass clockwork.NewRealClock() in production.
func New(store Store, bus *events.Bus, clock clockwork.Clock, cfg Config) *Scheduler {
	return &Scheduler{
		store: store,
		bus:   bus,
		clock: clock,
		cfg:   cfg,
		armed: make(map[uuid.UUID]*armedRound),
	}
}

// Run loops until ctx is canceled, reconciling once per interval. All armed
// timers are canceled on the way out.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", s.cfg.Interval).
		Dur("lookahead", s.cfg.Lookahead).
		Msg("round scheduler started")

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.cancelAll()

	s.reconcile(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("round scheduler shutting down")
			return nil
		case <-ticker.Chan():
			s.reconcile(ctx)
		}
	}
}

// reconcile scans for rounds whose nearest boundary falls inside the
// look-ahead window and arms timers for any not tracked yet. Errors are
// logged and skipped; one bad pass never halts the loop.
func (s *Scheduler) reconcile(ctx context.Context) {
	now := s.clock.Now()
	upcoming, err := s.store.ListUpcoming(ctx, now, now.Add(s.cfg.Lookahead))
	if err != nil {
		log.Error().Err(err).Msg("failed to scan upcoming rounds")
		return
	}
	for i := range upcoming {
		s.arm(ctx, &upcoming[i])
	}
}

// arm sets up one-shot boundary timers for a round. Arming is idempotent:
// a round already tracked is left alone.
func (s *Scheduler) arm(ctx context.Context, round *models.Round) {
	s.mu.Lock()
	if _, exists := s.armed[round.ID]; exists {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	entry := &armedRound{
		end:    s.clock.NewTimer(round.EndAt.Sub(now)),
		cancel: make(chan struct{}),
	}
	if round.StartAt.After(now) {
		entry.start = s.clock.NewTimer(round.StartAt.Sub(now))
	}
	s.armed[round.ID] = entry
	s.mu.Unlock()

	if entry.start != nil {
		go s.await(ctx, round.ID, entry.start, entry.cancel, boundaryStart)
	} else if now.Sub(round.StartAt) <= s.cfg.Tolerance {
		// First seen just after the start boundary (fresh round or restart);
		// attemptFire re-validates under the lock either way.
		go s.attemptFire(ctx, round.ID, boundaryStart)
	}
	go s.await(ctx, round.ID, entry.end, entry.cancel, boundaryEnd)

	log.Debug().
		Str("round_id", round.ID.String()).
		Time("start_at", round.StartAt).
		Time("end_at", round.EndAt).
		Msg("armed boundary timers")
}

func (s *Scheduler) await(ctx context.Context, roundID uuid.UUID, timer clockwork.Timer, cancel <-chan struct{}, kind boundary) {
	select {
	case <-timer.Chan():
		s.attemptFire(ctx, roundID, kind)
		if kind == boundaryEnd {
			s.disarm(roundID)
		}
	case <-cancel:
		stopAndDrainTimer(timer)
	case <-ctx.Done():
		stopAndDrainTimer(timer)
	}
}

// attemptFire re-reads the round under its exclusive row lock, validates that
// now is within tolerance of the expected boundary, and only then publishes.
// A failed validation is discarded silently: a later reconciliation pass will
// reschedule if the boundary is still ahead. Callable identically from a
// timer and from a reconciliation pass.
func (s *Scheduler) attemptFire(ctx context.Context, roundID uuid.UUID, kind boundary) {
	var started *events.RoundStartedPayload
	var finished *events.RoundFinishedPayload

	err := s.store.WithRoundLock(ctx, roundID, func(ctx context.Context, locked rounds.LockedRound) error {
		round := locked.Round()
		boundaryAt := round.StartAt
		if kind == boundaryEnd {
			boundaryAt = round.EndAt
		}
		now := s.clock.Now()
		if skew := now.Sub(boundaryAt); skew < -s.cfg.Tolerance || skew > s.cfg.Tolerance {
			log.Debug().
				Str("round_id", roundID.String()).
				Str("boundary", kind.String()).
				Dur("skew", skew).
				Msg("discarding stale boundary firing")
			return nil
		}

		if kind == boundaryStart {
			started = &events.RoundStartedPayload{Round: *round, StartedAt: now.UTC()}
			return nil
		}

		// Winner is computed inside the same locked read that validated the
		// boundary, so the broadcast can never see a torn leaderboard.
		participants, err := locked.Participants(ctx)
		if err != nil {
			return err
		}
		finished = &events.RoundFinishedPayload{
			Round:      *round,
			Winner:     rounds.PickWinner(participants),
			FinishedAt: now.UTC(),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, rounds.ErrRoundNotFound) {
			// Round vanished between arming and firing; drop the timers too.
			s.CancelRound(roundID)
			return
		}
		log.Error().
			Err(err).
			Str("round_id", roundID.String()).
			Str("boundary", kind.String()).
			Msg("boundary firing failed")
		return
	}

	switch {
	case started != nil:
		s.bus.PublishJSON(events.TypeRoundStarted, roundID, *started)
		s.bus.PublishJSON(events.TypeListRefresh, uuid.Nil, nil)
		log.Info().Str("round_id", roundID.String()).Msg("round started")
	case finished != nil:
		s.bus.PublishJSON(events.TypeRoundFinished, roundID, *finished)
		// Personal fields are never trusted from a broadcast; tell round
		// subscribers to pull their own snapshot.
		s.bus.PublishJSON(events.TypeRoundRefresh, roundID, nil)
		s.bus.PublishJSON(events.TypeListRefresh, uuid.Nil, nil)
		winner := "none"
		if finished.Winner != nil {
			winner = finished.Winner.Username
		}
		log.Info().
			Str("round_id", roundID.String()).
			Str("winner", winner).
			Msg("round finished")
	}
}

// CancelRound cancels any armed timers for a round, e.g. when it is deleted.
func (s *Scheduler) CancelRound(roundID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, exists := s.armed[roundID]; exists {
		close(entry.cancel)
		delete(s.armed, roundID)
	}
}

func (s *Scheduler) disarm(roundID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, roundID)
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.armed {
		close(entry.cancel)
		delete(s.armed, id)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel, following
// the pattern from the time.Timer.Stop documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
