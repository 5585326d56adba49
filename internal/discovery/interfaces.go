package discovery

import (
	"context"
	"io"
	"time"
)

// TaskStore keeps the keyed status record for every task.
type TaskStore interface {
	Create(ctx context.Context, task Task) error
	// Transition moves a task from one status to another atomically. mutate may
	// adjust the record before it is written; it must not change Status.
	Transition(ctx context.Context, taskID string, from, to TaskStatus, mutate func(*Task)) (Task, error)
	UpdateProgress(ctx context.Context, taskID string, progress Progress) error
	Get(ctx context.Context, taskID string) (Task, error)
	Delete(ctx context.Context, taskID string) error
}

// Queue provides enqueue/dequeue semantics for discovery tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// JobRepository is the dedup-aware persistence contract for postings.
type JobRepository interface {
	// SaveIfAbsent stores the posting unless its external id already exists.
	// It reports whether a new row was written. The check and insert are atomic.
	SaveIfAbsent(ctx context.Context, posting JobPosting) (bool, error)
	GetPostings(ctx context.Context, externalIDs []string) ([]JobPosting, error)
}

// MatchStore persists match results and serves ranked listings.
type MatchStore interface {
	SaveMatch(ctx context.Context, profileRef string, result MatchResult) error
	// Unscored returns the subset of externalIDs with no stored match for the fingerprint.
	Unscored(ctx context.Context, profileRef, fingerprint string, externalIDs []string) ([]string, error)
	ListScored(ctx context.Context, profileRef string, minScore, limit int) ([]ScoredJob, error)
}

// CredentialStore is the persistence behind the credential pool.
type CredentialStore interface {
	// Claim atomically selects the first eligible credential and leases it until leaseUntil.
	Claim(ctx context.Context, now time.Time, dailyLimit int, leaseUntil time.Time) (Credential, error)
	RecordSuccess(ctx context.Context, id string, usedAt time.Time) error
	RecordFailure(ctx context.Context, id string, cooldownUntil time.Time) error
	Release(ctx context.Context, id string) error
	ResetDailyCounts(ctx context.Context) (int64, error)
	Add(ctx context.Context, cred Credential) error
	List(ctx context.Context) ([]Credential, error)
	Deactivate(ctx context.Context, id string) error
}

// ProfileStore loads candidate profiles by reference.
type ProfileStore interface {
	GetProfile(ctx context.Context, ref string) (Profile, error)
	PutProfile(ctx context.Context, profile Profile) error
}

// MatchCache is one tier of the content-addressed match cache.
type MatchCache interface {
	Get(ctx context.Context, key string) (MatchResult, error)
	Set(ctx context.Context, key string, result MatchResult, ttl time.Duration) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes task completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, event TaskEvent) (string, error)
}

// Hasher computes digests for fingerprints and cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and credential IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
