// Package memory provides the in-process match cache tier.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// DefaultMaxEntries bounds the local tier when no size is configured.
const DefaultMaxEntries = 1000

type entry struct {
	result    discovery.MatchResult
	expiresAt time.Time
}

// Cache is a bounded LRU with per-entry expiry. It implements discovery.MatchCache.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache
	now func() time.Time
}

// New builds a cache holding at most maxEntries results.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{lru: lru.New(maxEntries), now: time.Now}
}

// WithClock overrides the time source for expiry checks.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns the cached result or discovery.ErrCacheMiss. Expired entries are evicted on read.
func (c *Cache) Get(_ context.Context, key string) (discovery.MatchResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return discovery.MatchResult{}, discovery.ErrCacheMiss
	}
	e := v.(entry)
	if !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return discovery.MatchResult{}, discovery.ErrCacheMiss
	}
	return e.result, nil
}

// Set stores result for ttl. A non-positive ttl is ignored.
func (c *Cache) Set(_ context.Context, key string, result discovery.MatchResult, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry{result: result, expiresAt: c.now().Add(ttl)})
	return nil
}

// Len reports the number of entries, including expired ones not yet evicted.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
