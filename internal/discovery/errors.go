package discovery

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the pipeline.
var (
	ErrCredentialExhausted = errors.New("no eligible credential available")
	ErrCacheUnavailable    = errors.New("match cache unavailable")
	ErrTaskTimeout         = errors.New("task exceeded time budget")
	ErrInvalidTransition   = errors.New("invalid task status transition")
	ErrTaskNotFound        = errors.New("task not found")
	ErrTaskExists          = errors.New("task already exists")
	ErrProfileNotFound     = errors.New("profile not found")
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrCacheMiss           = errors.New("cache miss")
	ErrQueueClosed         = errors.New("queue closed")
)

// Error kinds recorded on failed tasks.
const (
	KindCredentialExhausted = "credential_exhausted"
	KindScrapeEngine        = "scrape_engine_failure"
	KindTimeout             = "timeout"
	KindProfileNotFound     = "profile_not_found"
	KindInternal            = "internal"
)

// ScrapeEngineError reports that every scrape engine attempt failed.
type ScrapeEngineError struct {
	Reasons []error
}

func (e *ScrapeEngineError) Error() string {
	parts := make([]string, 0, len(e.Reasons))
	for _, r := range e.Reasons {
		parts = append(parts, r.Error())
	}
	return "all scrape engines failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-engine reasons to errors.Is/As.
func (e *ScrapeEngineError) Unwrap() []error {
	return e.Reasons
}

// ScoringServiceError wraps a failed or malformed AI scoring call.
type ScoringServiceError struct {
	Op  string
	Err error
}

func (e *ScoringServiceError) Error() string {
	return fmt.Sprintf("scoring service %s: %v", e.Op, e.Err)
}

func (e *ScoringServiceError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the caller may resubmit later with a chance of success.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCredentialExhausted)
}

// KindOf classifies a task failure for the status record.
func KindOf(err error) string {
	var engineErr *ScrapeEngineError
	switch {
	case errors.Is(err, ErrCredentialExhausted):
		return KindCredentialExhausted
	case errors.Is(err, ErrTaskTimeout):
		return KindTimeout
	case errors.Is(err, ErrProfileNotFound):
		return KindProfileNotFound
	case errors.As(err, &engineErr):
		return KindScrapeEngine
	default:
		return KindInternal
	}
}
