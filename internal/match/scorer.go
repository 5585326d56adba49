// Package match scores job postings against candidate profiles, caching AI
// results in two tiers and falling back to a keyword heuristic.
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/clock/system"
	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/hash/sha256"
	"github.com/JakeFAU/jobdiscovery/internal/llm"
	"github.com/JakeFAU/jobdiscovery/internal/metrics"
	"github.com/JakeFAU/jobdiscovery/internal/policy/ratelimit"
)

// aiLimiterKey is the ratelimit bucket shared by every scoring call.
const aiLimiterKey = "ai"

// Config tunes the scorer.
type Config struct {
	Concurrency int
	AITimeout   time.Duration
	CacheTTL    time.Duration
	LocalTTL    time.Duration
}

// Scorer computes match results. It is safe for concurrent use and is shared by all workers.
type Scorer struct {
	distributed discovery.MatchCache
	local       discovery.MatchCache
	provider    llm.Provider
	limiter     *ratelimit.Limiter
	hasher      discovery.Hasher
	clock       discovery.Clock
	cfg         Config
	logger      *zap.Logger
	totals      tally
}

// Deps groups the collaborators of a Scorer. Distributed and Limiter may be nil.
type Deps struct {
	Distributed discovery.MatchCache
	Local       discovery.MatchCache
	Provider    llm.Provider
	Limiter     *ratelimit.Limiter
	Hasher      discovery.Hasher
	Clock       discovery.Clock
	Logger      *zap.Logger
}

// NewScorer builds a Scorer, applying defaults to zero config values.
func NewScorer(deps Deps, cfg Config) *Scorer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 30 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.LocalTTL <= 0 {
		cfg.LocalTTL = time.Hour
	}
	if deps.Provider == nil {
		deps.Provider = llm.Disabled{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	return &Scorer{
		distributed: deps.Distributed,
		local:       deps.Local,
		provider:    deps.Provider,
		limiter:     deps.Limiter,
		hasher:      deps.Hasher,
		clock:       deps.Clock,
		cfg:         cfg,
		logger:      deps.Logger,
	}
}

// Score returns the match of one posting against a profile. It never fails:
// scoring service problems degrade to the heuristic.
func (s *Scorer) Score(ctx context.Context, profile discovery.Profile, posting discovery.JobPosting) discovery.MatchResult {
	fp, err := Fingerprint(profile, s.hasher)
	if err != nil {
		s.logger.Warn("profile fingerprint failed", zap.Error(err))
	}
	var t tally
	return s.scoreSafe(ctx, profile, fp, posting, &t)
}

// ScoreBatch scores postings on a fixed pool of goroutines. Results are in input order.
func (s *Scorer) ScoreBatch(ctx context.Context, profile discovery.Profile, postings []discovery.JobPosting) []discovery.MatchResult {
	results, _ := s.ScoreBatchWithStats(ctx, profile, postings)
	return results
}

// ScoreBatchWithStats is ScoreBatch plus the cache statistics of this batch alone.
func (s *Scorer) ScoreBatchWithStats(
	ctx context.Context,
	profile discovery.Profile,
	postings []discovery.JobPosting,
) ([]discovery.MatchResult, discovery.CacheStats) {
	results := make([]discovery.MatchResult, len(postings))
	if len(postings) == 0 {
		return results, discovery.CacheStats{}
	}
	fp, err := Fingerprint(profile, s.hasher)
	if err != nil {
		s.logger.Warn("profile fingerprint failed", zap.Error(err))
	}

	var (
		batch tally
		wg    sync.WaitGroup
		next  = make(chan int)
	)
	workers := min(s.cfg.Concurrency, len(postings))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range next {
				results[i] = s.scoreSafe(ctx, profile, fp, postings[i], &batch)
			}
		}()
	}
	for i := range postings {
		next <- i
	}
	close(next)
	wg.Wait()
	return results, batch.snapshot()
}

// Stats returns cumulative counters since the scorer was built.
func (s *Scorer) Stats() discovery.CacheStats {
	return s.totals.snapshot()
}

func (s *Scorer) scoreSafe(
	ctx context.Context,
	profile discovery.Profile,
	fp string,
	posting discovery.JobPosting,
	t *tally,
) (res discovery.MatchResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scoring panicked", zap.String("external_id", posting.ExternalID), zap.Any("panic", r))
			res = s.heuristic(profile, fp, posting, t)
		}
		res.ScoredAt = s.clock.Now()
	}()
	return s.score(ctx, profile, fp, posting, t)
}

func (s *Scorer) score(
	ctx context.Context,
	profile discovery.Profile,
	fp string,
	posting discovery.JobPosting,
	t *tally,
) discovery.MatchResult {
	logger := s.logger.With(zap.String("external_id", posting.ExternalID))

	key, err := CacheKey(fp, posting, s.hasher)
	if err != nil || fp == "" {
		logger.Debug("cache key unavailable, scoring uncached", zap.Error(err))
		key = ""
	}

	if key != "" {
		if res, ok := s.lookup(ctx, key, t, logger); ok {
			res.ExternalID = posting.ExternalID
			res.ProfileFingerprint = fp
			res.Source = discovery.SourceCache
			metrics.ObserveMatchScore(discovery.SourceCache)
			return res
		}
	}
	bump(&t.misses, &s.totals.misses)

	res, err := s.callAI(ctx, profile, posting, t)
	if err != nil {
		bump(&t.aiFailures, &s.totals.aiFailures)
		logger.Info("ai scoring failed, using heuristic", zap.Error(err))
		return s.heuristic(profile, fp, posting, t)
	}
	res.ExternalID = posting.ExternalID
	res.ProfileFingerprint = fp
	res.CachedAt = s.clock.Now()
	res.TTL = s.cfg.CacheTTL
	if key != "" {
		s.store(ctx, key, res, logger)
	}
	metrics.ObserveMatchScore(discovery.SourceAI)
	return res
}

// lookup consults the distributed tier, then the local tier. A distributed hit
// is copied into the local tier.
func (s *Scorer) lookup(ctx context.Context, key string, t *tally, logger *zap.Logger) (discovery.MatchResult, bool) {
	if s.distributed != nil {
		res, err := s.distributed.Get(ctx, key)
		switch {
		case err == nil:
			metrics.ObserveMatchCache("distributed", "hit")
			bump(&t.distributedHits, &s.totals.distributedHits)
			if s.local != nil {
				if err := s.local.Set(ctx, key, res, s.cfg.LocalTTL); err != nil {
					logger.Debug("local cache fill skipped", zap.Error(err))
				}
			}
			return res, true
		case errors.Is(err, discovery.ErrCacheMiss):
			metrics.ObserveMatchCache("distributed", "miss")
		default:
			metrics.ObserveMatchCache("distributed", "error")
			logger.Debug("distributed cache bypassed", zap.Error(err))
		}
	}
	if s.local != nil {
		if res, err := s.local.Get(ctx, key); err == nil {
			metrics.ObserveMatchCache("local", "hit")
			bump(&t.localHits, &s.totals.localHits)
			return res, true
		}
		metrics.ObserveMatchCache("local", "miss")
	}
	return discovery.MatchResult{}, false
}

func (s *Scorer) store(ctx context.Context, key string, res discovery.MatchResult, logger *zap.Logger) {
	if s.distributed != nil {
		if err := s.distributed.Set(ctx, key, res, s.cfg.CacheTTL); err != nil {
			logger.Debug("distributed cache write skipped", zap.Error(err))
		}
	}
	if s.local != nil {
		if err := s.local.Set(ctx, key, res, s.cfg.LocalTTL); err != nil {
			logger.Debug("local cache write skipped", zap.Error(err))
		}
	}
}

func (s *Scorer) callAI(
	ctx context.Context,
	profile discovery.Profile,
	posting discovery.JobPosting,
	t *tally,
) (discovery.MatchResult, error) {
	if err := s.limiter.Wait(ctx, aiLimiterKey); err != nil {
		return discovery.MatchResult{}, &discovery.ScoringServiceError{Op: "wait", Err: err}
	}
	bump(&t.aiCalls, &s.totals.aiCalls)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AITimeout)
	defer cancel()
	text, err := s.provider.Complete(callCtx, BuildPrompt(profile, posting))
	if err != nil {
		return discovery.MatchResult{}, &discovery.ScoringServiceError{Op: "complete", Err: err}
	}
	res, err := ParseReply(text)
	if err != nil {
		return discovery.MatchResult{}, fmt.Errorf("posting %s: %w", posting.ExternalID, err)
	}
	return res, nil
}

func (s *Scorer) heuristic(profile discovery.Profile, fp string, posting discovery.JobPosting, t *tally) discovery.MatchResult {
	bump(&t.heuristic, &s.totals.heuristic)
	res := Heuristic(profile, posting)
	res.ProfileFingerprint = fp
	metrics.ObserveMatchScore(discovery.SourceHeuristic)
	return res
}

type tally struct {
	distributedHits atomic.Int64
	localHits       atomic.Int64
	misses          atomic.Int64
	aiCalls         atomic.Int64
	aiFailures      atomic.Int64
	heuristic       atomic.Int64
}

// bump increments a per-batch counter and its cumulative twin.
func bump(counters ...*atomic.Int64) {
	for _, c := range counters {
		c.Add(1)
	}
}

func (t *tally) snapshot() discovery.CacheStats {
	return discovery.CacheStats{
		DistributedHits: int(t.distributedHits.Load()),
		LocalHits:       int(t.localHits.Load()),
		Misses:          int(t.misses.Load()),
		AICalls:         int(t.aiCalls.Load()),
		AIFailures:      int(t.aiFailures.Load()),
		Heuristic:       int(t.heuristic.Load()),
	}
}
