package rounds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lastofguss/guss/internal/models"
	"github.com/lastofguss/guss/internal/sqlutil"
)

const (
	insertRoundQuery = `
		INSERT INTO rounds (id, start_at, end_at, total_score)
		VALUES ($1, $2, $3, 0)
		RETURNING id, start_at, end_at, total_score, created_at`

	getRoundQuery = `
		SELECT id, start_at, end_at, total_score, created_at
		FROM rounds
		WHERE id = $1`

	lockRoundQuery = getRoundQuery + `
		FOR UPDATE`

	listRoundsQuery = `
		SELECT id, start_at, end_at, total_score, created_at
		FROM rounds
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	countRoundsQuery = `
		SELECT count(*) FROM rounds`

	listUpcomingQuery = `
		SELECT id, start_at, end_at, total_score, created_at
		FROM rounds
		WHERE end_at > $1 AND (start_at <= $2 OR end_at <= $2)
		ORDER BY start_at ASC`

	updateRoundScoreQuery = `
		UPDATE rounds SET total_score = $2 WHERE id = $1`

	insertParticipantQuery = `
		INSERT INTO round_participants (id, round_id, user_id, taps, score)
		VALUES ($1, $2, $3, 0, 0)
		ON CONFLICT (round_id, user_id) DO NOTHING`

	lockParticipantQuery = `
		SELECT id, round_id, user_id, taps, score, created_at, updated_at
		FROM round_participants
		WHERE round_id = $1 AND user_id = $2
		FOR UPDATE`

	updateParticipantQuery = `
		UPDATE round_participants
		SET taps = $2, score = $3, updated_at = now()
		WHERE id = $1`

	listParticipantsQuery = `
		SELECT p.user_id, u.username, p.taps, p.score
		FROM round_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.round_id = $1
		ORDER BY p.score DESC, p.created_at ASC`
)

// LockedRound is the view of a round while its row lock is held. It lets the
// scheduler read the leaderboard inside the same transaction that validated
// the boundary.
type LockedRound interface {
	Round() *models.Round
	Participants(ctx context.Context) ([]ParticipantScore, error)
}

// Repository implements round and participant data access on Postgres.
// Every mutation path takes the round row lock first, then the participant
// row lock, so writers on one round are strictly serialized and the lock
// order is the same everywhere.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new rounds repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRound inserts a new round and returns it with store-assigned fields.
func (r *Repository) CreateRound(ctx context.Context, round models.Round) (*models.Round, error) {
	created, err := scanRound(r.pool.QueryRow(ctx, insertRoundQuery, round.ID, round.StartAt, round.EndAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create round: %w", err)
	}
	return created, nil
}

// GetRound fetches one round without locking.
func (r *Repository) GetRound(ctx context.Context, id uuid.UUID) (*models.Round, error) {
	round, err := scanRound(r.pool.QueryRow(ctx, getRoundQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return round, nil
}

// ListRounds returns one page of rounds, newest first, plus the total count.
func (r *Repository) ListRounds(ctx context.Context, limit, offset int) ([]models.Round, int, error) {
	rows, err := r.pool.Query(ctx, listRoundsQuery, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, *round)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to list rounds: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countRoundsQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count rounds: %w", err)
	}
	return rounds, total, nil
}

// ListUpcoming returns rounds that are not finished at now and whose nearest
// boundary falls at or before horizon, ordered by start time.
func (r *Repository) ListUpcoming(ctx context.Context, now, horizon time.Time) ([]models.Round, error) {
	rows, err := r.pool.Query(ctx, listUpcomingQuery, now, horizon)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming rounds: %w", err)
	}
	defer rows.Close()

	var rounds []models.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, *round)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list upcoming rounds: %w", err)
	}
	return rounds, nil
}

// ListParticipants returns a round's leaderboard in descending-score order
// with a stable creation-time tie-break.
func (r *Repository) ListParticipants(ctx context.Context, roundID uuid.UUID) ([]ParticipantScore, error) {
	return queryParticipants(ctx, r.pool, roundID)
}

// TapUpdate runs fn inside one transaction with the round row and the
// participant row locked, in that order. The participant row is created with
// zero counters when the pair has never tapped before. Counter mutations fn
// makes are written back before commit; any error from fn rolls the whole
// transaction back so no partial mutation is ever observable.
func (r *Repository) TapUpdate(ctx context.Context, roundID, userID uuid.UUID, fn func(round *models.Round, participant *models.Participant) error) (*models.Round, *models.Participant, error) {
	var round *models.Round
	var participant *models.Participant

	err := sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		locked, err := scanRound(tx.QueryRow(ctx, lockRoundQuery, roundID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRoundNotFound
			}
			return fmt.Errorf("failed to lock round: %w", err)
		}

		p, err := scanParticipant(tx.QueryRow(ctx, lockParticipantQuery, roundID, userID))
		if errors.Is(err, pgx.ErrNoRows) {
			// First tap for this (round, user) pair. ON CONFLICT DO NOTHING
			// plus the re-select keeps find-or-create idempotent even if the
			// row appeared since the first select.
			if _, err := tx.Exec(ctx, insertParticipantQuery, uuid.New(), roundID, userID); err != nil {
				return fmt.Errorf("failed to create participant: %w", err)
			}
			p, err = scanParticipant(tx.QueryRow(ctx, lockParticipantQuery, roundID, userID))
		}
		if err != nil {
			return fmt.Errorf("failed to lock participant: %w", err)
		}

		if err := fn(locked, p); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, updateParticipantQuery, p.ID, p.Taps, p.Score); err != nil {
			return fmt.Errorf("failed to update participant: %w", err)
		}
		if _, err := tx.Exec(ctx, updateRoundScoreQuery, locked.ID, locked.TotalScore); err != nil {
			return fmt.Errorf("failed to update round score: %w", err)
		}

		round, participant = locked, p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return round, participant, nil
}

// WithRoundLock runs fn while holding the round's exclusive row lock, without
// writing anything. Used by the scheduler to validate a boundary and read the
// leaderboard atomically.
func (r *Repository) WithRoundLock(ctx context.Context, roundID uuid.UUID, fn func(ctx context.Context, locked LockedRound) error) error {
	return sqlutil.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		round, err := scanRound(tx.QueryRow(ctx, lockRoundQuery, roundID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRoundNotFound
			}
			return fmt.Errorf("failed to lock round: %w", err)
		}
		return fn(ctx, &lockedRound{tx: tx, round: round})
	})
}

type lockedRound struct {
	tx    pgx.Tx
	round *models.Round
}

func (l *lockedRound) Round() *models.Round { return l.round }

func (l *lockedRound) Participants(ctx context.Context) ([]ParticipantScore, error) {
	return queryParticipants(ctx, l.tx, l.round.ID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryParticipants(ctx context.Context, q querier, roundID uuid.UUID) ([]ParticipantScore, error) {
	rows, err := q.Query(ctx, listParticipantsQuery, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []ParticipantScore
	for rows.Next() {
		var p ParticipantScore
		if err := rows.Scan(&p.UserID, &p.Username, &p.Taps, &p.Score); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return participants, nil
}

func scanRound(row pgx.Row) (*models.Round, error) {
	var round models.Round
	if err := row.Scan(&round.ID, &round.StartAt, &round.EndAt, &round.TotalScore, &round.CreatedAt); err != nil {
		return nil, err
	}
	return &round, nil
}

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	if err := row.Scan(&p.ID, &p.RoundID, &p.UserID, &p.Taps, &p.Score, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
