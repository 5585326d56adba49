// Package worker executes discovery tasks pulled from the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/match"
	"github.com/JakeFAU/jobdiscovery/internal/metrics"
	"github.com/JakeFAU/jobdiscovery/internal/scrape"
)

const finalizeTimeout = 10 * time.Second

var tracer = otel.Tracer("github.com/JakeFAU/jobdiscovery/internal/worker")

// CredentialPool is the subset of credentials.Pool the worker needs.
type CredentialPool interface {
	Acquire(ctx context.Context) (discovery.Credential, error)
	MarkSuccess(ctx context.Context, cred discovery.Credential) error
	MarkFailure(ctx context.Context, cred discovery.Credential) error
	Release(ctx context.Context, cred discovery.Credential) error
}

// Scraper runs a search with one credential.
type Scraper interface {
	Scrape(ctx context.Context, taskID string, cred discovery.Credential, req discovery.SearchRequest) scrape.Outcome
}

// Scorer scores postings against a profile and reports cache behavior.
type Scorer interface {
	ScoreBatchWithStats(
		ctx context.Context,
		profile discovery.Profile,
		postings []discovery.JobPosting,
	) ([]discovery.MatchResult, discovery.CacheStats)
}

// Config controls Worker behavior.
type Config struct {
	// TaskTimeout bounds a whole task run.
	TaskTimeout time.Duration
	// Topic receives a TaskEvent when a task finishes. Empty disables publishing.
	Topic string
}

// Deps groups the collaborators of a Worker. Publisher may be nil.
type Deps struct {
	Queue     discovery.Queue
	Tasks     discovery.TaskStore
	Pool      CredentialPool
	Scraper   Scraper
	Scorer    Scorer
	Jobs      discovery.JobRepository
	Matches   discovery.MatchStore
	Profiles  discovery.ProfileStore
	Publisher discovery.Publisher
	Hasher    discovery.Hasher
	Clock     discovery.Clock
}

// Worker consumes queue items and runs scrape, dedup, score and finalize.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{deps: deps, cfg: cfg, logger: logger}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, discovery.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task", zap.String("task_id", item.TaskID))
		w.Process(ctx, item)
	}
}

// Process runs one task to a terminal state. It never panics.
func (w *Worker) Process(ctx context.Context, item discovery.QueueItem) {
	logger := w.logger.With(zap.String("task_id", item.TaskID))
	started := w.deps.Clock.Now()

	_, err := w.deps.Tasks.Transition(ctx, item.TaskID, discovery.TaskStatusPending, discovery.TaskStatusStarted,
		func(t *discovery.Task) { t.StartedAt = &started })
	if err != nil {
		logger.Warn("task not startable", zap.Error(err))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx, span := tracer.Start(ctx, "discovery.task", trace.WithAttributes(
		attribute.String("task.id", item.TaskID),
		attribute.String("profile.ref", item.Request.ProfileRef),
	))
	defer span.End()

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.TaskTimeout)
	result, runErr := w.executeSafe(runCtx, item, logger)
	if runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) && !errors.Is(runErr, discovery.ErrTaskTimeout) {
		runErr = fmt.Errorf("%w: %w", discovery.ErrTaskTimeout, runErr)
	}
	cancel()

	finalCtx, finalCancel := detached(ctx)
	defer finalCancel()
	w.finalize(finalCtx, item, started, result, runErr, logger)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, discovery.KindOf(runErr))
	}
}

func (w *Worker) executeSafe(ctx context.Context, item discovery.QueueItem, logger *zap.Logger) (result *discovery.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			result, err = nil, fmt.Errorf("task panicked: %v", r)
		}
	}()
	run := &taskRun{worker: w, item: item, logger: logger}
	return run.execute(ctx)
}

func (w *Worker) finalize(
	ctx context.Context,
	item discovery.QueueItem,
	started time.Time,
	result *discovery.TaskResult,
	runErr error,
	logger *zap.Logger,
) {
	finished := w.deps.Clock.Now()
	to := discovery.TaskStatusSuccess
	if runErr != nil {
		to = discovery.TaskStatusFailure
	}
	task, err := w.deps.Tasks.Transition(ctx, item.TaskID, discovery.TaskStatusStarted, to, func(t *discovery.Task) {
		t.FinishedAt = &finished
		if runErr != nil {
			t.Error = runErr.Error()
			t.ErrorKind = discovery.KindOf(runErr)
			return
		}
		t.Result = result
	})
	if err != nil {
		logger.Error("final task transition failed", zap.String("status", string(to)), zap.Error(err))
		return
	}
	metrics.ObserveTask(string(to), finished.Sub(started))

	if runErr != nil {
		logger.Warn("task failed",
			zap.String("error_kind", task.ErrorKind),
			zap.Bool("retryable", discovery.IsRetryable(runErr)),
			zap.Error(runErr),
		)
	} else {
		logger.Info("task succeeded",
			zap.Int("jobs_found", result.JobsFound),
			zap.Int("jobs_saved", result.JobsSaved),
			zap.Int("jobs_scored", result.JobsScored),
			zap.String("scraper_mode", result.ScraperMode),
			zap.Int("top_match_score", result.TopMatchScore),
		)
	}
	w.publish(ctx, task, finished, logger)
}

func (w *Worker) publish(ctx context.Context, task discovery.Task, completedAt time.Time, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	event := discovery.TaskEvent{
		TaskID:      task.ID,
		ProfileRef:  task.Request.ProfileRef,
		Status:      task.Status,
		Result:      task.Result,
		Error:       task.Error,
		ErrorKind:   task.ErrorKind,
		CompletedAt: completedAt,
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Error("publish task event failed", zap.Error(err))
		return
	}
	logger.Debug("task event published", zap.String("message_id", id))
}

// taskRun carries the state of one execution so failure paths can settle the
// credential and keep partial results.
type taskRun struct {
	worker *Worker
	item   discovery.QueueItem
	logger *zap.Logger

	profile     discovery.Profile
	fingerprint string

	cred    *discovery.Credential
	settled bool
}

func (r *taskRun) execute(ctx context.Context) (result *discovery.TaskResult, err error) {
	req := r.item.Request
	defer func() { r.settleCredential(ctx, err) }()

	r.progress(ctx, "loading_profile", 2)
	if err := r.loadProfile(ctx, req.ProfileRef); err != nil {
		return nil, err
	}

	r.progress(ctx, "acquiring_credential", 5)
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}

	r.progress(ctx, "scraping", 15)
	outcome := r.scrape(ctx)
	if !outcome.Succeeded() {
		return nil, outcome.Err()
	}
	// A use counts once the scrape succeeds; a deadline hit while scraping settles as a failure.
	if ctx.Err() == nil {
		r.markUsed(ctx)
	}

	r.progress(ctx, "saving", 45)
	saved, err := r.persist(ctx, outcome.Postings)
	if err != nil {
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: after saving %d postings: %w", discovery.ErrTaskTimeout, saved, ctxErr)
	}

	r.progress(ctx, "scoring", 60)
	ids := make([]string, 0, len(outcome.Postings))
	for _, p := range outcome.Postings {
		ids = append(ids, p.ExternalID)
	}
	results, stats, err := r.score(ctx, req.ProfileRef, ids)
	if err != nil {
		return nil, err
	}

	r.progress(ctx, "finalizing", 95)

	res := &discovery.TaskResult{
		JobsFound:   len(outcome.Postings),
		JobsSaved:   saved,
		JobsScored:  len(results),
		ScraperMode: outcome.Engine,
		JobIDs:      ids,
		Warnings:    outcome.Warnings,
		CacheStats:  stats,
	}
	for _, m := range results {
		if m.Source == discovery.SourceHeuristic {
			res.HeuristicScores++
		}
		res.TopMatchScore = max(res.TopMatchScore, m.Score)
	}
	return res, nil
}

func (r *taskRun) loadProfile(ctx context.Context, profileRef string) error {
	d := r.worker.deps
	profile, err := d.Profiles.GetProfile(ctx, profileRef)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", profileRef, err)
	}
	fp, err := match.Fingerprint(profile, d.Hasher)
	if err != nil {
		return fmt.Errorf("fingerprint profile: %w", err)
	}
	r.profile, r.fingerprint = profile, fp
	return nil
}

func (r *taskRun) markUsed(ctx context.Context) {
	if err := r.worker.deps.Pool.MarkSuccess(ctx, *r.cred); err != nil {
		r.logger.Warn("mark credential success failed", zap.Error(err))
		return
	}
	r.settled = true
}

func (r *taskRun) acquire(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "credential.acquire")
	defer span.End()
	cred, err := r.worker.deps.Pool.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.String("credential.id", cred.ID))
	r.cred = &cred
	return nil
}

func (r *taskRun) scrape(ctx context.Context) scrape.Outcome {
	ctx, span := tracer.Start(ctx, "scrape")
	defer span.End()
	outcome := r.worker.deps.Scraper.Scrape(ctx, r.item.TaskID, *r.cred, r.item.Request)
	span.SetAttributes(
		attribute.String("scrape.mode", modeOf(outcome)),
		attribute.Int("scrape.postings", len(outcome.Postings)),
		attribute.Int("scrape.warnings", len(outcome.Warnings)),
	)
	if err := outcome.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "all engines failed")
	}
	return outcome
}

// persist saves postings. Once the run context is done it switches to a
// detached context so scraped records are not lost.
func (r *taskRun) persist(ctx context.Context, postings []discovery.JobPosting) (int, error) {
	ctx, span := tracer.Start(ctx, "persist")
	defer span.End()

	saveCtx := ctx
	isDetached := false
	saved := 0
	for i, p := range postings {
		if !isDetached && ctx.Err() != nil {
			var cancel context.CancelFunc
			saveCtx, cancel = detached(ctx)
			defer cancel()
			isDetached = true
			r.logger.Warn("task deadline reached, persisting scraped postings", zap.Int("remaining", len(postings)-i))
		}
		ok, err := r.worker.deps.Jobs.SaveIfAbsent(saveCtx, p)
		if err != nil {
			span.RecordError(err)
			return saved, fmt.Errorf("save posting %s: %w", p.ExternalID, err)
		}
		if ok {
			saved++
		}
	}
	metrics.ObserveJobsDiscovered(saved, len(postings)-saved)
	span.SetAttributes(attribute.Int("jobs.saved", saved), attribute.Int("jobs.duplicates", len(postings)-saved))
	return saved, nil
}

func (r *taskRun) score(
	ctx context.Context,
	profileRef string,
	ids []string,
) ([]discovery.MatchResult, discovery.CacheStats, error) {
	d := r.worker.deps
	ctx, span := tracer.Start(ctx, "score")
	defer span.End()

	unscored, err := d.Matches.Unscored(ctx, profileRef, r.fingerprint, ids)
	if err != nil {
		return nil, discovery.CacheStats{}, fmt.Errorf("list unscored: %w", err)
	}
	postings, err := d.Jobs.GetPostings(ctx, unscored)
	if err != nil {
		return nil, discovery.CacheStats{}, fmt.Errorf("load postings: %w", err)
	}

	results, stats := d.Scorer.ScoreBatchWithStats(ctx, r.profile, postings)
	ctxErr := ctx.Err()
	saveCtx := ctx
	if ctxErr != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = detached(ctx)
		defer cancel()
		r.logger.Warn("task deadline reached, persisting computed matches", zap.Int("matches", len(results)))
	}
	for _, m := range results {
		if err := d.Matches.SaveMatch(saveCtx, profileRef, m); err != nil {
			return nil, stats, fmt.Errorf("save match %s: %w", m.ExternalID, err)
		}
	}
	if ctxErr != nil {
		return nil, stats, fmt.Errorf("%w: scoring: %w", discovery.ErrTaskTimeout, ctxErr)
	}
	span.SetAttributes(
		attribute.Int("match.scored", len(results)),
		attribute.Int("match.ai_calls", stats.AICalls),
		attribute.Int("match.heuristic", stats.Heuristic),
	)
	return results, stats, nil
}

// settleCredential returns the credential to the pool on failure paths that
// happen before a use was recorded.
func (r *taskRun) settleCredential(ctx context.Context, runErr error) {
	if r.cred == nil || r.settled {
		return
	}
	r.settled = true
	pool := r.worker.deps.Pool
	ctx, cancel := detached(ctx)
	defer cancel()

	var engineErr *discovery.ScrapeEngineError
	timedOut := errors.Is(runErr, discovery.ErrTaskTimeout) || errors.Is(runErr, context.DeadlineExceeded)
	if runErr != nil && (timedOut || errors.As(runErr, &engineErr)) {
		if err := pool.MarkFailure(ctx, *r.cred); err != nil {
			r.logger.Warn("mark credential failure failed", zap.Error(err))
		}
		return
	}
	if err := pool.Release(ctx, *r.cred); err != nil {
		r.logger.Warn("release credential failed", zap.Error(err))
	}
}

func (r *taskRun) progress(ctx context.Context, stage string, percent int) {
	if ctx.Err() != nil {
		return
	}
	if err := r.worker.deps.Tasks.UpdateProgress(ctx, r.item.TaskID, discovery.Progress{Stage: stage, Percent: percent}); err != nil {
		r.logger.Debug("progress update failed", zap.String("stage", stage), zap.Error(err))
	}
}

func modeOf(o scrape.Outcome) string {
	if o.Engine == "" {
		return discovery.ScraperModeNone
	}
	return o.Engine
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}
