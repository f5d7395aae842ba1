package web

import (
	"errors"
	"net/http"

	"procodus.dev/alertnav/internal/store"
)

type loginRequest struct {
	Email string `json:"email" validate:"required,contains=@,max=255"`
}

type userSummary struct {
	Email string `json:"email"`
	ID    uint   `json:"id"`
}

type loginResponse struct {
	User    userSummary `json:"user"`
	Success bool        `json:"success"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type meResponse struct {
	User *store.User `json:"user"`
}

// handleLogin creates or refreshes the user and starts a session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.countLogin("invalid")
		s.writeError(w, http.StatusBadRequest, "Valid email is required")
		return
	}

	email := store.NormalizeEmail(req.Email)
	user, err := s.users.UpsertLogin(r.Context(), email)
	if err != nil {
		s.countLogin("error")
		s.logger.Error("login failed", "error", err, "email", email)
		s.writeError(w, http.StatusInternalServerError, "Failed to login")
		return
	}

	if err := s.sessions.Start(r.Context(), w, user.Email); err != nil {
		s.countLogin("error")
		s.logger.Error("failed to start session", "error", err, "email", user.Email)
		s.writeError(w, http.StatusInternalServerError, "Failed to login")
		return
	}

	s.countLogin("success")
	s.logger.Info("user logged in", "user_id", user.ID, "email", user.Email)
	s.writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		User:    userSummary{ID: user.ID, Email: user.Email},
	})
}

func (s *Server) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

// handleLogout always succeeds. A failed revoke is logged but the cookie is
// cleared regardless.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.End(w, r); err != nil {
		s.logger.Warn("failed to revoke session", "error", err)
	}
	s.writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleMe returns the signed-in user's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	email, ok := EmailFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	user, err := s.users.UserByEmail(r.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load current user", "error", err, "email", email)
		s.writeError(w, http.StatusInternalServerError, "Failed to check authentication")
		return
	}

	s.writeJSON(w, http.StatusOK, meResponse{User: user})
}
