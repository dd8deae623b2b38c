package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUserNotFound is returned when no user exists for the given username.
var ErrUserNotFound = errors.New("user not found")

// ErrUsernameTaken is returned when an insert loses a registration race.
var ErrUsernameTaken = errors.New("username already taken")

const (
	getUserByUsernameQuery = `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE username = $1`

	insertUserQuery = `
		INSERT INTO users (id, username, password_hash, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING
		RETURNING id, username, password_hash, role, created_at`
)

// Repository implements user data access on Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new users repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByUsername fetches a user and its credential hash by username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	account, err := scanAccount(r.pool.QueryRow(ctx, getUserByUsernameQuery, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return account, nil
}

// CreateUser inserts a new user. A concurrent registration of the same
// username surfaces as ErrUsernameTaken instead of a constraint error.
func (r *Repository) CreateUser(ctx context.Context, account Account) (*Account, error) {
	created, err := scanAccount(r.pool.QueryRow(ctx, insertUserQuery,
		account.ID, account.Username, account.PasswordHash, account.Role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return created, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var account Account
	if err := row.Scan(&account.ID, &account.Username, &account.PasswordHash, &account.Role, &account.CreatedAt); err != nil {
		return nil, err
	}
	return &account, nil
}
