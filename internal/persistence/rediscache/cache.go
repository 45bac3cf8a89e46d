// Package rediscache implements the executor's idempotency cache on Redis,
// where the TTL does the 24h retention for free.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weave-hq/weave/internal/cmn/config"
	"github.com/weave-hq/weave/internal/core"
)

const keyPrefix = "weave:idem:"

// Cache stores slim action results keyed by idempotency key.
type Cache struct {
	client redis.UniversalClient
}

var _ core.IdempotencyCache = (*Cache)(nil)

// New wraps an existing Redis client.
func New(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Connect opens and verifies a Redis connection.
func Connect(ctx context.Context, cfg config.Redis) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return New(client), nil
}

// Close releases the underlying client.
func (c *Cache) Close() error { return c.client.Close() }

// Get fetches a cached result. A miss is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, key string) (map[string]any, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return value, true, nil
}

// Put stores a result under the key for the given TTL.
func (c *Cache) Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, raw, ttl).Err()
}
