package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveTaskCountsByStatus(t *testing.T) {
	before := testutil.ToFloat64(tasksTotal.WithLabelValues("SUCCESS"))
	ObserveTask("SUCCESS", 3*time.Second)
	ObserveTask("SUCCESS", time.Second)
	if got := testutil.ToFloat64(tasksTotal.WithLabelValues("SUCCESS")) - before; got != 2 {
		t.Fatalf("expected 2 successful tasks recorded, got %f", got)
	}
	if n := testutil.CollectAndCount(taskDurationSeconds); n == 0 {
		t.Fatal("expected task duration histogram to be observed")
	}
}

func TestObserveJobsDiscoveredSkipsZero(t *testing.T) {
	newBefore := testutil.ToFloat64(jobsDiscoveredTotal.WithLabelValues("new"))
	dupBefore := testutil.ToFloat64(jobsDiscoveredTotal.WithLabelValues("duplicate"))

	ObserveJobsDiscovered(3, 0)
	ObserveJobsDiscovered(0, 2)

	if got := testutil.ToFloat64(jobsDiscoveredTotal.WithLabelValues("new")) - newBefore; got != 3 {
		t.Errorf("expected 3 new postings, got %f", got)
	}
	if got := testutil.ToFloat64(jobsDiscoveredTotal.WithLabelValues("duplicate")) - dupBefore; got != 2 {
		t.Errorf("expected 2 duplicates, got %f", got)
	}
}

func TestObserveHelpers(t *testing.T) {
	cases := []struct {
		name    string
		observe func()
		value   func() float64
	}{
		{
			name:    "scrape",
			observe: func() { ObserveScrape("fallback", "success") },
			value:   func() float64 { return testutil.ToFloat64(scrapesTotal.WithLabelValues("fallback", "success")) },
		},
		{
			name:    "match score",
			observe: func() { ObserveMatchScore("heuristic") },
			value:   func() float64 { return testutil.ToFloat64(matchScoresTotal.WithLabelValues("heuristic")) },
		},
		{
			name:    "match cache",
			observe: func() { ObserveMatchCache("local", "hit") },
			value:   func() float64 { return testutil.ToFloat64(matchCacheTotal.WithLabelValues("local", "hit")) },
		},
		{
			name:    "credential acquire",
			observe: func() { ObserveCredentialAcquire("exhausted") },
			value:   func() float64 { return testutil.ToFloat64(credentialAcquireTotal.WithLabelValues("exhausted")) },
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := tc.value()
			tc.observe()
			if got := tc.value() - before; got != 1 {
				t.Errorf("expected increment of 1, got %f", got)
			}
		})
	}
}

func TestActiveWorkersGauge(t *testing.T) {
	before := testutil.ToFloat64(activeWorkers)
	IncActiveWorkers()
	IncActiveWorkers()
	DecActiveWorkers()
	if got := testutil.ToFloat64(activeWorkers) - before; got != 1 {
		t.Fatalf("expected gauge delta 1, got %f", got)
	}
	DecActiveWorkers()
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("ai", 250*time.Millisecond)
	if n := testutil.CollectAndCount(rateLimitDelaySeconds); n == 0 {
		t.Fatal("expected rate limit histogram series")
	}
}
