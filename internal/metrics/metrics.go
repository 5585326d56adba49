// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdiscovery_tasks_total",
			Help: "Total number of discovery tasks finished, labeled by status.",
		},
		[]string{"status"},
	)

	scrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdiscovery_scrapes_total",
			Help: "Scrape engine attempts, labeled by engine and outcome.",
		},
		[]string{"engine", "outcome"},
	)

	jobsDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdiscovery_jobs_discovered_total",
			Help: "Postings discovered, labeled by whether they were new.",
		},
		[]string{"kind"},
	)

	matchScoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdiscovery_match_scores_total",
			Help: "Match results produced, labeled by source.",
		},
		[]string{"source"},
	)

	matchCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdiscovery_match_cache_total",
			Help: "Match cache lookups, labeled by tier and result.",
		},
		[]string{"tier", "result"},
	)

	credentialAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobdiscovery_credential_acquire_total",
			Help: "Credential acquisitions, labeled by result.",
		},
		[]string{"result"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobdiscovery_active_workers",
			Help: "Number of workers currently processing a task.",
		},
	)

	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobdiscovery_task_duration_seconds",
			Help:    "Wall-clock duration of discovery tasks.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"status"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobdiscovery_rate_limit_delay_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"key"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveTask records a finished task.
func ObserveTask(status string, duration time.Duration) {
	tasksTotal.WithLabelValues(status).Inc()
	taskDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveScrape records one engine attempt.
func ObserveScrape(engine, outcome string) {
	scrapesTotal.WithLabelValues(engine, outcome).Inc()
}

// ObserveJobsDiscovered records how many postings were new versus already known.
func ObserveJobsDiscovered(saved, duplicates int) {
	if saved > 0 {
		jobsDiscoveredTotal.WithLabelValues("new").Add(float64(saved))
	}
	if duplicates > 0 {
		jobsDiscoveredTotal.WithLabelValues("duplicate").Add(float64(duplicates))
	}
}

// ObserveMatchScore records a produced match result.
func ObserveMatchScore(source string) {
	matchScoresTotal.WithLabelValues(source).Inc()
}

// ObserveMatchCache records a cache lookup for a tier ("distributed" or "local").
func ObserveMatchCache(tier, result string) {
	matchCacheTotal.WithLabelValues(tier, result).Inc()
}

// ObserveCredentialAcquire records an acquisition attempt.
func ObserveCredentialAcquire(result string) {
	credentialAcquireTotal.WithLabelValues(result).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(key string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(key).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
