package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "alertnav:session:"

// RedisStore keeps sessions in Redis under random UUID tokens. Sessions
// expire with the key TTL and Revoke deletes them.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a RedisStore on client.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultMaxAge
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func redisKey(token string) string {
	return redisKeyPrefix + token
}

// Issue implements Store.
func (s *RedisStore) Issue(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", errors.New("cannot issue a session without an email")
	}
	token := uuid.NewString()
	if err := s.client.Set(ctx, redisKey(token), email, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Resolve implements Store. Tokens that are not UUIDs never reach Redis.
func (s *RedisStore) Resolve(ctx context.Context, token string) (string, error) {
	if _, err := uuid.Parse(token); err != nil {
		return "", ErrNoSession
	}

	email, err := s.client.Get(ctx, redisKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	return email, nil
}

// Revoke implements Store.
func (s *RedisStore) Revoke(ctx context.Context, token string) error {
	if _, err := uuid.Parse(token); err != nil {
		return nil
	}
	if err := s.client.Del(ctx, redisKey(token)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}
