// Package cache remembers positive anchor confirmations so repeated status
// queries do not hit the anchor. Confirmation is monotonic, so only "true" is
// ever cached.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"aidtrace/pkg/platform/sentinel"
)

const keyPrefix = "aidtrace:confirmed:"

// RedisCache stores confirmations as "<prefix><hash>" -> reference.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a cache. A ttl of zero keeps entries forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func confirmationKey(hash string) string {
	return keyPrefix + hash
}

// IsConfirmed returns sentinel.ErrNotFound when hash has no cached confirmation.
func (c *RedisCache) IsConfirmed(ctx context.Context, hash string) (bool, error) {
	_, err := c.client.Get(ctx, confirmationKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, sentinel.ErrNotFound
		}
		return false, fmt.Errorf("get cached confirmation: %w", err)
	}
	return true, nil
}

// MarkConfirmed caches a positive confirmation.
func (c *RedisCache) MarkConfirmed(ctx context.Context, hash, reference string) error {
	if err := c.client.Set(ctx, confirmationKey(hash), reference, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache confirmation: %w", err)
	}
	return nil
}

// Noop is used when Redis is not configured.
type Noop struct{}

func (Noop) IsConfirmed(context.Context, string) (bool, error) { return false, sentinel.ErrNotFound }

func (Noop) MarkConfirmed(context.Context, string, string) error { return nil }
