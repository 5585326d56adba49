package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

func TestCacheSetGetExpire(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_000, 0)
	var mu sync.Mutex
	c := New(10).WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	ctx := context.Background()

	_, err := c.Get(ctx, "job_match:a")
	require.ErrorIs(t, err, discovery.ErrCacheMiss)

	want := discovery.MatchResult{ExternalID: "1", Score: 81, Source: discovery.SourceAI}
	require.NoError(t, c.Set(ctx, "job_match:a", want, time.Hour))

	got, err := c.Get(ctx, "job_match:a")
	require.NoError(t, err)
	require.Equal(t, want, got)

	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()
	_, err = c.Get(ctx, "job_match:a")
	require.ErrorIs(t, err, discovery.ErrCacheMiss)
	require.Zero(t, c.Len())
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := New(2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), discovery.MatchResult{Score: i}, time.Minute))
	}
	require.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "k0")
	require.ErrorIs(t, err, discovery.ErrCacheMiss)
	got, err := c.Get(ctx, "k2")
	require.NoError(t, err)
	require.Equal(t, 2, got.Score)
}

func TestCacheIgnoresZeroTTL(t *testing.T) {
	t.Parallel()

	c := New(0)
	require.NoError(t, c.Set(context.Background(), "k", discovery.MatchResult{}, 0))
	require.Zero(t, c.Len())
}
