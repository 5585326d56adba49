// Package redis provides the distributed match cache tier backed by Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Cache stores match results as JSON strings with a TTL. It implements discovery.MatchCache.
type Cache struct {
	client redis.UniversalClient
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// Get returns the cached result, discovery.ErrCacheMiss, or an error wrapping
// discovery.ErrCacheUnavailable.
func (c *Cache) Get(ctx context.Context, key string) (discovery.MatchResult, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return discovery.MatchResult{}, discovery.ErrCacheMiss
	}
	if err != nil {
		return discovery.MatchResult{}, fmt.Errorf("%w: get %s: %w", discovery.ErrCacheUnavailable, key, err)
	}
	var res discovery.MatchResult
	if err := json.Unmarshal(raw, &res); err != nil {
		// A corrupt entry behaves like a miss and is overwritten by the next Set.
		return discovery.MatchResult{}, discovery.ErrCacheMiss
	}
	return res, nil
}

// Set writes result with the given ttl.
func (c *Cache) Set(ctx context.Context, key string, result discovery.MatchResult, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal match result: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %w", discovery.ErrCacheUnavailable, key, err)
	}
	return nil
}
