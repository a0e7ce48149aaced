package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const sessionKeyPrefix = "relay:session:"

// RedisStore persists credential strings keyed by user id. Sessions survive
// process restarts so users do not re-authenticate after a deploy.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore constructs a store. A zero ttl keeps sessions forever.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// SaveSession stores the credential string for a user.
func (s *RedisStore) SaveSession(ctx context.Context, userID int64, credential string) error {
	if err := s.client.Set(ctx, sessionKey(userID), credential, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis save session for %d: %w", userID, err)
	}
	return nil
}

// LoadSession returns the stored credential, or empty when none exists.
func (s *RedisStore) LoadSession(ctx context.Context, userID int64) (string, error) {
	raw, err := s.client.Get(ctx, sessionKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("redis load session for %d: %w", userID, err)
	}
	return raw, nil
}

// DeleteSession forgets the stored credential.
func (s *RedisStore) DeleteSession(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, sessionKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete session for %d: %w", userID, err)
	}
	return nil
}

func sessionKey(userID int64) string {
	return fmt.Sprintf("%s%d", sessionKeyPrefix, userID)
}
