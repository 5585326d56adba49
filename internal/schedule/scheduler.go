// Package schedule runs periodic maintenance: the daily credential counter
// reset and pruning of finished task records.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// Job is a named unit of periodic work.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler wraps robfig/cron.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	names  []string
}

// New creates a Scheduler evaluating specs in loc. A nil loc means UTC.
func New(logger *zap.Logger, loc *time.Location) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.Named("schedule")
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
	}
}

// Add registers job. ctx is handed to every run.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Run == nil {
		return fmt.Errorf("job %q has no run function", job.Name)
	}
	_, err := s.cron.AddFunc(job.Spec, func() {
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
			return
		}
		s.logger.Debug("scheduled job finished",
			zap.String("job", job.Name),
			zap.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("schedule %q (%s): %w", job.Name, job.Spec, err)
	}
	s.names = append(s.names, job.Name)
	return nil
}

// Run starts the cron loop and blocks until ctx is canceled, then waits for
// in-flight jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Strings("jobs", s.names))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

// CredentialResetter zeroes daily credential counters.
type CredentialResetter interface {
	ResetDailyCounts(ctx context.Context) error
}

// TaskPruner removes finished task records older than a retention window.
type TaskPruner interface {
	Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// ResetCredentials builds the daily counter reset job.
func ResetCredentials(spec string, pool CredentialResetter) Job {
	return Job{
		Name: "reset-credential-counts",
		Spec: spec,
		Run:  pool.ResetDailyCounts,
	}
}

// PruneTasks builds the task retention job.
func PruneTasks(spec string, pruner TaskPruner, clock discovery.Clock, retention time.Duration, logger *zap.Logger) Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Job{
		Name: "prune-tasks",
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := pruner.Prune(ctx, clock.Now(), retention)
			if err != nil {
				return fmt.Errorf("prune tasks: %w", err)
			}
			if n > 0 {
				logger.Info("pruned finished tasks", zap.Int("count", n))
			}
			return nil
		},
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
