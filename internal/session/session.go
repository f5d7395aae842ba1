// Package session maps the browser session cookie to the signed-in email.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"
)

const (
	// CookieName is the name of the session cookie.
	CookieName = "alertnav_session"
	// DefaultMaxAge is how long a session stays valid after login.
	DefaultMaxAge = 7 * 24 * time.Hour
)

// ErrNoSession is returned when a token is missing, malformed, tampered
// with, expired or revoked.
var ErrNoSession = errors.New("no valid session")

// Store issues and resolves opaque session tokens.
type Store interface {
	// Issue creates a session for email and returns its token.
	Issue(ctx context.Context, email string) (string, error)
	// Resolve returns the email bound to token or ErrNoSession.
	Resolve(ctx context.Context, token string) (string, error)
	// Revoke ends the session. Revoking an unknown token is not an error.
	Revoke(ctx context.Context, token string) error
}

// Manager reads and writes the session cookie on top of a Store.
type Manager struct {
	store  Store
	maxAge time.Duration
	secure bool
}

// NewManager creates a Manager. A non-positive maxAge means DefaultMaxAge.
func NewManager(store Store, maxAge time.Duration, secure bool) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store cannot be nil")
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Manager{store: store, maxAge: maxAge, secure: secure}, nil
}

// Start issues a session for email and sets the cookie on w.
func (m *Manager) Start(ctx context.Context, w http.ResponseWriter, email string) error {
	token, err := m.store.Issue(ctx, email)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.maxAge / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Email returns the email of the session carried by r, or ErrNoSession.
func (m *Manager) Email(r *http.Request) (string, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", ErrNoSession
	}
	return m.store.Resolve(r.Context(), c.Value)
}

// End revokes the session carried by r, if any, and clears the cookie.
func (m *Manager) End(w http.ResponseWriter, r *http.Request) error {
	var err error
	if c, cookieErr := r.Cookie(CookieName); cookieErr == nil && c.Value != "" {
		err = m.store.Revoke(r.Context(), c.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}
