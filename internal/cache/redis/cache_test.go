package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := Connect(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func TestCacheRoundTripAndTTL(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "job_match:x")
	require.ErrorIs(t, err, discovery.ErrCacheMiss)

	want := discovery.MatchResult{
		ExternalID:     "3812345678",
		Score:          77,
		MatchingSkills: []string{"go"},
		MissingSkills:  []string{"rust"},
		ExperienceFit:  discovery.FitStrong,
		Reasoning:      "solid overlap",
		Source:         discovery.SourceAI,
		CachedAt:       time.Unix(1_700_000_000, 0).UTC(),
		TTL:            24 * time.Hour,
	}
	require.NoError(t, c.Set(ctx, "job_match:x", want, 24*time.Hour))
	require.Equal(t, 24*time.Hour, mr.TTL("job_match:x"))

	got, err := c.Get(ctx, "job_match:x")
	require.NoError(t, err)
	require.Equal(t, want, got)

	mr.FastForward(25 * time.Hour)
	_, err = c.Get(ctx, "job_match:x")
	require.ErrorIs(t, err, discovery.ErrCacheMiss)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	t.Parallel()

	c, mr := newTestCache(t)
	require.NoError(t, mr.Set("job_match:bad", "{not json"))
	_, err := c.Get(context.Background(), "job_match:bad")
	require.ErrorIs(t, err, discovery.ErrCacheMiss)
}

func TestCacheUnavailable(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	c := New(client)
	_, err = c.Get(context.Background(), "k")
	require.ErrorIs(t, err, discovery.ErrCacheUnavailable)
	err = c.Set(context.Background(), "k", discovery.MatchResult{}, time.Minute)
	require.ErrorIs(t, err, discovery.ErrCacheUnavailable)
}

func TestConnectBadURL(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "not-a-url://")
	require.Error(t, err)
}
