package rounds

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrRoundNotFound is returned when the requested round does not exist.
	ErrRoundNotFound = errors.New("round not found")
	// ErrRoundNotStarted is returned for a tap during the cooldown phase.
	ErrRoundNotStarted = errors.New("round has not started yet")
	// ErrRoundFinished is returned for a tap at or after the round's end.
	ErrRoundFinished = errors.New("round has already finished")
	// ErrUnauthorized is returned when a privileged operation is attempted
	// by a non-admin principal.
	ErrUnauthorized = errors.New("only admins can create rounds")
)

// IsTransient reports whether err is a lock or serialization failure that the
// caller may safely retry. The core never retries taps itself; a retry after
// rollback is equivalent to the client tapping again.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	}
	return false
}
