package users

import "github.com/lastofguss/guss/internal/models"

// Account is a user together with its stored credential hash. It never
// leaves this package's repository/app boundary.
type Account struct {
	models.User
	PasswordHash string
}

// LoginRequest is the credentials payload for the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued session token and the resolved user.
type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}
