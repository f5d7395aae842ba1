package web

//go:generate templ generate

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/alertnav/internal/store"
)

// render writes component to w with the given status. The page is buffered
// so a failed render never leaves a half-written 200 behind.
func (s *Server) render(ctx context.Context, w http.ResponseWriter, status int, name string, component templ.Component) {
	var buf bytes.Buffer

	err := s.trackTemplateRender(name, func() error {
		return component.Render(ctx, &buf)
	})
	if err != nil {
		s.logger.Error("failed to render page", "error", err, "template", name)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Debug("failed to write page", "error", err, "template", name)
	}
}

// trackTemplateRender wraps template rendering with metrics tracking.
func (s *Server) trackTemplateRender(name string, renderFunc func() error) error {
	if s.metrics == nil {
		return renderFunc()
	}

	timer := prometheus.NewTimer(s.metrics.TemplateRenderTime.WithLabelValues(name))
	defer timer.ObserveDuration()

	if err := renderFunc(); err != nil {
		s.metrics.TemplateRenderErrors.WithLabelValues(name).Inc()
		return err
	}
	return nil
}

// handleIndex serves the live map.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	email, _ := EmailFromContext(r.Context())
	s.render(r.Context(), w, http.StatusOK, "index", indexPage(email, s.config.Map))
}

// handleLoginPage serves the sign-in form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(r.Context(), w, http.StatusOK, "login", loginPage())
}

// handleEditPage serves the edit form of one reading.
func (s *Server) handleEditPage(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		s.render(r.Context(), w, http.StatusNotFound, "not_found", notFoundPage("That location does not exist."))
		return
	}

	reading, err := s.readings.ReadingByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.render(r.Context(), w, http.StatusNotFound, "not_found", notFoundPage("That location does not exist."))
		return
	}
	if err != nil {
		s.logger.Error("failed to load reading for edit", "error", err, "id", id)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.render(r.Context(), w, http.StatusOK, "edit", editPage(reading))
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}
