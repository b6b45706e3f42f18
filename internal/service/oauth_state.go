package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/database"
	"github.com/redis/go-redis/v9"
)

// DefaultStateTTL bounds how long an authorization round trip may take
const DefaultStateTTL = 10 * time.Minute

// PendingConnection is what an OAuth state stands for until its callback arrives
type PendingConnection struct {
	UserID    string          `json:"user_id"`
	Provider  domain.Provider `json:"provider"`
	CreatedAt time.Time       `json:"created_at"`
}

// RedisStateStore keeps OAuth states in Redis.
// A state is consumed at most once.
type RedisStateStore struct {
	redis *database.Redis
}

// NewRedisStateStore creates a new state store
func NewRedisStateStore(redis *database.Redis) *RedisStateStore {
	return &RedisStateStore{redis: redis}
}

// Save stores pending under state for ttl
func (s *RedisStateStore) Save(ctx context.Context, state string, pending PendingConnection, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode oauth state: %w", err)
	}

	if err := s.redis.Client.Set(ctx, stateKey(state), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save oauth state: %w", err)
	}
	return nil
}

// Consume returns the pending connection of state and deletes it
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*PendingConnection, error) {
	payload, err := s.redis.Client.GetDel(ctx, stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	var pending PendingConnection
	if err := json.Unmarshal(payload, &pending); err != nil {
		return nil, ErrInvalidState
	}
	return &pending, nil
}

func stateKey(state string) string {
	return "oauth:state:" + state
}

// newState returns a random URL-safe state value
func newState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
