// Package redis provides Redis-backed caches.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStatsKey is the key the stats payload is stored under.
const DefaultStatsKey = "askmaven:stats"

// kv is the subset of *redis.Client the cache needs.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// StatsCache stores the remote worker's stats payload as JSON with a TTL.
type StatsCache struct {
	client kv
	key    string
	ttl    time.Duration
}

// NewStatsCache wires a StatsCache. An empty key uses DefaultStatsKey.
func NewStatsCache(client kv, key string, ttl time.Duration) *StatsCache {
	if key == "" {
		key = DefaultStatsKey
	}
	return &StatsCache{client: client, key: key, ttl: ttl}
}

// NewClient parses redisURL and verifies connectivity.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Get returns the cached payload. ok is false on a miss.
func (c *StatsCache) Get(ctx context.Context) (map[string]any, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", c.key, err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("decode cached stats: %w", err)
	}
	return out, true, nil
}

// Set stores the payload for the configured TTL.
func (c *StatsCache) Set(ctx context.Context, stats map[string]any) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", c.key, err)
	}
	return nil
}
