package rounds

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/lastofguss/guss/internal/auth"
	"github.com/lastofguss/guss/internal/models"
	"github.com/rs/zerolog/log"
)

// Service exposes the rounds App over HTTP.
type Service struct {
	app *App
}

// NewService creates a new rounds HTTP service.
func NewService(app *App) *Service {
	return &Service{app: app}
}

// RegisterRoutes mounts the rounds endpoints behind the given auth middleware.
func (s *Service) RegisterRoutes(mux *http.ServeMux, requireAuth func(http.Handler) http.Handler) {
	mux.Handle("GET /api/rounds", requireAuth(http.HandlerFunc(s.handleList)))
	mux.Handle("POST /api/rounds", requireAuth(http.HandlerFunc(s.handleCreate)))
	mux.Handle("GET /api/rounds/{id}", requireAuth(http.HandlerFunc(s.handleGet)))
	mux.Handle("POST /api/rounds/{id}/tap", requireAuth(http.HandlerFunc(s.handleTap)))
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)

	result, err := s.app.ListRounds(r.Context(), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	round, err := s.app.CreateRound(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, round)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	roundID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid round id"})
		return
	}
	principal, _ := auth.PrincipalFromContext(r.Context())

	userID := uuid.Nil
	if principal != nil {
		userID = principal.ID
	}
	details, err := s.app.GetRound(r.Context(), roundID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	// The exempt role never sees its own score, only its tap count.
	if principal != nil && principal.Role == models.UserRoleNikita {
		details.MyScore = 0
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Service) handleTap(w http.ResponseWriter, r *http.Request) {
	roundID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid round id"})
		return
	}
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authorization required"})
		return
	}

	result, err := s.app.Tap(r.Context(), roundID, principal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrRoundNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrRoundNotStarted), errors.Is(err, ErrRoundFinished):
		status = http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
	case IsTransient(err):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
