package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lastofguss/guss/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when the password does not match an
// existing account.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UsersRepository defines what the app layer needs from the repository.
type UsersRepository interface {
	GetByUsername(ctx context.Context, username string) (*Account, error)
	CreateUser(ctx context.Context, account Account) (*Account, error)
}

// App handles user business logic.
type App struct {
	repo UsersRepository
}

// NewApp creates a new users App.
func NewApp(repo UsersRepository) *App {
	return &App{repo: repo}
}

// Login authenticates a user, registering it on first sight. The role is
// fixed at registration time from the username.
func (a *App) Login(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	account, err := a.repo.GetByUsername(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		account, err = a.register(ctx, username, password)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("username", account.Username).
			Str("role", string(account.Role)).
			Msg("registered new user")
		return &account.User, nil
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &account.User, nil
}

func (a *App) register(ctx context.Context, username, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account, err := a.repo.CreateUser(ctx, Account{
		User: models.User{
			ID:       uuid.New(),
			Username: username,
			Role:     DetermineRole(username),
		},
		PasswordHash: string(hash),
	})
	if errors.Is(err, ErrUsernameTaken) {
		// Lost a registration race; authenticate against the winner's row.
		existing, getErr := a.repo.GetByUsername(ctx, username)
		if getErr != nil {
			return nil, getErr
		}
		if err := bcrypt.CompareHashAndPassword([]byte(existing.PasswordHash), []byte(password)); err != nil {
			return nil, ErrInvalidCredentials
		}
		return existing, nil
	}
	return account, err
}

// DetermineRole maps a username to its role: "admin" administrates,
// Nikita never scores, everyone else survives.
func DetermineRole(username string) models.UserRole {
	switch strings.ToLower(username) {
	case "admin":
		return models.UserRoleAdmin
	case "nikita", "никита":
		return models.UserRoleNikita
	default:
		return models.UserRoleSurvivor
	}
}
