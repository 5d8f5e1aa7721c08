package signedcode

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSecrets keeps live secrets in Redis so several API instances share
// one slot per session. Keys expire with the code they back.
type RedisSecrets struct {
	client *redis.Client
	prefix string
}

// NewRedisSecrets stores secrets under prefix+sessionID.
func NewRedisSecrets(client *redis.Client, prefix string) *RedisSecrets {
	if prefix == "" {
		prefix = "attendance:code:"
	}
	return &RedisSecrets{client: client, prefix: prefix}
}

// SetLiveSecret replaces the session's secret.
func (r *RedisSecrets) SetLiveSecret(ctx context.Context, sessionID, secret string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	return r.client.Set(ctx, r.prefix+sessionID, secret, ttl).Err()
}

// LiveSecret returns the current secret or "" when none is live.
func (r *RedisSecrets) LiveSecret(ctx context.Context, sessionID string) (string, error) {
	s, err := r.client.Get(ctx, r.prefix+sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return s, err
}
