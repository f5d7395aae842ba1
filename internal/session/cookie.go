package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

type cookiePayload struct {
	Email    string `json:"e"`
	IssuedAt int64  `json:"i"`
}

// CookieStore keeps the session inside the cookie itself, signed with an
// HMAC and optionally encrypted. It holds no server-side state, so Revoke
// only clears the browser cookie.
type CookieStore struct {
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewCookieStore creates a CookieStore. hashKey must be 32 or 64 bytes;
// blockKey is optional and must be 16, 24 or 32 bytes when set.
func NewCookieStore(hashKey, blockKey []byte, maxAge time.Duration) (*CookieStore, error) {
	if len(hashKey) != 32 && len(hashKey) != 64 {
		return nil, fmt.Errorf("session hash key must be 32 or 64 bytes, got %d", len(hashKey))
	}
	switch len(blockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("session block key must be 16, 24 or 32 bytes, got %d", len(blockKey))
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	if len(blockKey) == 0 {
		blockKey = nil
	}
	codec := securecookie.New(hashKey, blockKey).
		MaxAge(int(maxAge / time.Second)).
		SetSerializer(securecookie.JSONEncoder{})

	return &CookieStore{codec: codec, now: time.Now}, nil
}

// Issue implements Store.
func (s *CookieStore) Issue(_ context.Context, email string) (string, error) {
	if email == "" {
		return "", errors.New("cannot issue a session without an email")
	}
	token, err := s.codec.Encode(CookieName, cookiePayload{Email: email, IssuedAt: s.now().Unix()})
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	return token, nil
}

// Resolve implements Store. securecookie rejects tokens older than maxAge.
func (s *CookieStore) Resolve(_ context.Context, token string) (string, error) {
	var payload cookiePayload
	if err := s.codec.Decode(CookieName, token, &payload); err != nil {
		return "", ErrNoSession
	}
	if payload.Email == "" {
		return "", ErrNoSession
	}
	return payload.Email, nil
}

// Revoke implements Store.
func (s *CookieStore) Revoke(context.Context, string) error {
	return nil
}
