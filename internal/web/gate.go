package web

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"procodus.dev/alertnav/internal/session"
)

type emailKey struct{}

func withEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, emailKey{}, email)
}

// EmailFromContext returns the signed-in email the gate attached to ctx.
func EmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey{}).(string)
	return email, ok && email != ""
}

// isOpenPath reports whether path is reachable without a session.
func isOpenPath(path string) bool {
	switch {
	case path == "/login",
		path == "/health",
		path == "/metrics",
		path == "/favicon.ico",
		strings.HasPrefix(path, "/api/auth/"),
		strings.HasPrefix(path, "/static/"):
		return true
	}
	return false
}

// gate redirects requests without a valid session to /login and signed-in
// visitors of /login to /. Any session lookup failure counts as no session.
func (s *Server) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, err := s.sessions.Email(r)
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			s.logger.Warn("session lookup failed", "error", err, "path", r.URL.Path)
		}
		signedIn := err == nil

		switch {
		case !signedIn && !isOpenPath(r.URL.Path):
			s.redirect(w, r, "/login")
			return
		case signedIn && r.URL.Path == "/login":
			s.redirect(w, r, "/")
			return
		}

		if signedIn {
			r = r.WithContext(withEmail(r.Context(), email))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, target string) {
	if s.metrics != nil {
		s.metrics.GateRedirects.WithLabelValues(target).Inc()
	}
	http.Redirect(w, r, target, http.StatusFound)
}
