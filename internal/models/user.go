package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole defines what a principal may do and how its taps are scored.
type UserRole string

const (
	// UserRoleSurvivor is the default player role.
	UserRoleSurvivor UserRole = "survivor"
	// UserRoleAdmin may create rounds.
	UserRoleAdmin UserRole = "admin"
	// UserRoleNikita taps like everyone else but never scores.
	UserRoleNikita UserRole = "nikita"
)

// User is the authenticated principal consumed by the game core.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}
