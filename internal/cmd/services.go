package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/lastofguss/guss/internal/auth"
	"github.com/lastofguss/guss/internal/events"
	"github.com/lastofguss/guss/internal/gateway"
	"github.com/lastofguss/guss/internal/rounds"
	"github.com/lastofguss/guss/internal/scheduler"
	"github.com/lastofguss/guss/internal/users"
)

type Services struct {
	Bus       *events.Bus
	Tokens    *auth.Manager
	Users     *users.Service
	Rounds    *rounds.Service
	Hub       *gateway.Hub
	Scheduler *scheduler.Scheduler
}

func setupServices(pool *pgxpool.Pool, config *Config) *Services {
	// Wire up dependency injection chain
	// Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()
	bus := events.NewBus(256)
	tokens := auth.NewManager(config.Auth.JWTSecret, config.Auth.TokenTTL)

	// Users
	userRepo := users.NewRepository(pool)
	userApp := users.NewApp(userRepo)
	userService := users.NewService(userApp, tokens)

	// Rounds
	roundRepo := rounds.NewRepository(pool)
	roundApp := rounds.NewApp(roundRepo, bus, clock, config.Game)
	roundService := rounds.NewService(roundApp)

	// Boundary scheduler and WebSocket hub share the same bus
	sched := scheduler.New(roundRepo, bus, clock, config.Sched)
	hub := gateway.NewHub(roundApp, tokens, bus, config.Socket)

	return &Services{
		Bus:       bus,
		Tokens:    tokens,
		Users:     userService,
		Rounds:    roundService,
		Hub:       hub,
		Scheduler: sched,
	}
}
