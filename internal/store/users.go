package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/alertnav/pkg/metrics"
)

// UserStore reads and writes the users table.
type UserStore struct {
	db      *gorm.DB
	metrics *metrics.StoreMetrics
	now     func() time.Time
}

// NewUserStore creates a UserStore on db. m may be nil.
func NewUserStore(db *gorm.DB, m *metrics.StoreMetrics) *UserStore {
	return &UserStore{db: db, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertLogin records a login for email: a new user is created with
// created_at and last_login set to now, an existing one gets last_login
// bumped. It runs as one INSERT ... ON CONFLICT statement so concurrent first
// logins cannot create duplicates.
func (s *UserStore) UpsertLogin(ctx context.Context, email string) (*User, error) {
	now := s.now()
	user := User{
		Email:     NormalizeEmail(email),
		CreatedAt: now,
		LastLogin: now,
	}

	err := observe(s.metrics, "upsert_login", func() error {
		return s.db.WithContext(ctx).
			Clauses(
				clause.OnConflict{
					Columns:   []clause.Column{{Name: "email"}},
					DoUpdates: clause.Assignments(map[string]any{"last_login": now}),
				},
				clause.Returning{},
			).
			Create(&user).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user %s: %w", user.Email, err)
	}

	return &user, nil
}

// UserByEmail looks a user up by normalised email.
func (s *UserStore) UserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := observe(s.metrics, "user_by_email", func() error {
		err := s.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", email, err)
	}

	return &user, nil
}
