package users

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lastofguss/guss/internal/auth"
	"github.com/rs/zerolog/log"
)

// Service exposes the users App over HTTP.
type Service struct {
	app    *App
	tokens *auth.Manager
}

// NewService creates a new users HTTP service.
func NewService(app *App, tokens *auth.Manager) *Service {
	return &Service{app: app, tokens: tokens}
}

// RegisterRoutes mounts the login endpoint. Login is the only route that
// does not require a token.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", s.handleLogin)
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	user, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("username", req.Username).Msg("login failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		log.Error().Err(err).Str("username", user.Username).Msg("failed to issue token")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: *user})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}
