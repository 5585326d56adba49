// Package tasks accepts search submissions and reports task status.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// Request limits.
const (
	DefaultMaxResults = 25
	MaxResultsCap     = 125
)

var (
	// ErrInvalidRequest marks a submission that failed validation.
	ErrInvalidRequest = errors.New("invalid search request")
	// ErrQueueFull is returned when the task could not be enqueued in time.
	ErrQueueFull = errors.New("task queue is full")
)

// Config controls submission behavior.
type Config struct {
	EnqueueTimeout       time.Duration
	EstimatedTimeSeconds int
}

// SubmitReceipt is returned to the caller immediately after submission.
type SubmitReceipt struct {
	TaskID               string `json:"task_id"`
	Status               string `json:"status"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// StatusView is the pollable view of a task.
type StatusView struct {
	TaskID    string                `json:"task_id"`
	Status    discovery.TaskStatus  `json:"status"`
	Progress  *discovery.Progress   `json:"progress,omitempty"`
	Result    *discovery.TaskResult `json:"result,omitempty"`
	Error     string                `json:"error,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
	Retryable bool                  `json:"retryable,omitempty"`
}

// Enqueuer hands a task to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, item discovery.QueueItem) error
}

// Service creates tasks and reads their status. It never runs pipeline work.
type Service struct {
	store  discovery.TaskStore
	queue  Enqueuer
	ids    discovery.IDGenerator
	clock  discovery.Clock
	cfg    Config
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(
	store discovery.TaskStore,
	queue Enqueuer,
	ids discovery.IDGenerator,
	clock discovery.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	if cfg.EstimatedTimeSeconds <= 0 {
		cfg.EstimatedTimeSeconds = 120
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, queue: queue, ids: ids, clock: clock, cfg: cfg, logger: logger}
}

// Normalize validates req and applies defaults.
func Normalize(req discovery.SearchRequest) (discovery.SearchRequest, error) {
	req.Query = strings.TrimSpace(req.Query)
	req.ProfileRef = strings.TrimSpace(req.ProfileRef)
	req.Location = strings.TrimSpace(req.Location)
	if req.Query == "" {
		return req, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if req.ProfileRef == "" {
		return req, fmt.Errorf("%w: profile_ref is required", ErrInvalidRequest)
	}
	switch {
	case req.MaxResults == 0:
		req.MaxResults = DefaultMaxResults
	case req.MaxResults < 1:
		req.MaxResults = 1
	case req.MaxResults > MaxResultsCap:
		req.MaxResults = MaxResultsCap
	}
	return req, nil
}

// Submit records a PENDING task and enqueues it.
func (s *Service) Submit(ctx context.Context, req discovery.SearchRequest) (SubmitReceipt, error) {
	req, err := Normalize(req)
	if err != nil {
		return SubmitReceipt{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return SubmitReceipt{}, fmt.Errorf("generate task id: %w", err)
	}
	now := s.clock.Now()
	task := discovery.Task{
		ID:          id,
		Status:      discovery.TaskStatusPending,
		Request:     req,
		SubmittedAt: now,
	}
	if err := s.store.Create(ctx, task); err != nil {
		return SubmitReceipt{}, fmt.Errorf("create task: %w", err)
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	defer cancel()
	if err := s.queue.Enqueue(enqueueCtx, discovery.QueueItem{
		TaskID:    id,
		Request:   req,
		Attempt:   1,
		Submitted: now.Unix(),
	}); err != nil {
		if delErr := s.store.Delete(context.WithoutCancel(ctx), id); delErr != nil {
			s.logger.Error("remove unqueued task failed", zap.String("task_id", id), zap.Error(delErr))
		}
		s.logger.Warn("enqueue failed", zap.String("task_id", id), zap.Error(err))
		return SubmitReceipt{}, fmt.Errorf("%w: %w", ErrQueueFull, err)
	}

	s.logger.Info("search submitted",
		zap.String("task_id", id),
		zap.String("profile_ref", req.ProfileRef),
		zap.String("query", req.Query),
		zap.Int("max_results", req.MaxResults),
	)
	return SubmitReceipt{
		TaskID:               id,
		Status:               "started",
		EstimatedTimeSeconds: s.cfg.EstimatedTimeSeconds,
	}, nil
}

// Status returns the pollable view of a task.
func (s *Service) Status(ctx context.Context, taskID string) (StatusView, error) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return StatusView{}, err
	}
	view := StatusView{
		TaskID:    task.ID,
		Status:    task.Status,
		Progress:  task.Progress,
		Result:    task.Result,
		Error:     task.Error,
		ErrorKind: task.ErrorKind,
	}
	if task.ErrorKind == discovery.KindCredentialExhausted {
		view.Retryable = true
	}
	return view, nil
}
