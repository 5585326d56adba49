// Package discovery defines the core types shared across the job-discovery pipeline.
package discovery

import (
	"time"
)

// TaskStatus represents the lifecycle state of a discovery task.
type TaskStatus string

// Task status values persisted in the task store.
const (
	TaskStatusPending TaskStatus = "PENDING"
	TaskStatusStarted TaskStatus = "STARTED"
	TaskStatusSuccess TaskStatus = "SUCCESS"
	TaskStatusFailure TaskStatus = "FAILURE"
)

// Terminal reports whether no further transitions are allowed.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailure
}

// CanTransition reports whether moving from one status to another is allowed.
// The only legal path is PENDING -> STARTED -> {SUCCESS, FAILURE}.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusStarted
	case TaskStatusStarted:
		return to == TaskStatusSuccess || to == TaskStatusFailure
	default:
		return false
	}
}

// Scraper modes reported in task results.
const (
	ScraperModePrimary  = "primary"
	ScraperModeFallback = "fallback"
	ScraperModeNone     = "none"
)

// SearchRequest captures the parameters a client submits for discovery.
type SearchRequest struct {
	ProfileRef string `json:"profile_ref"`
	Query      string `json:"query"`
	Location   string `json:"location,omitempty"`
	RemoteOnly bool   `json:"remote_only"`
	MaxResults int    `json:"max_results"`
}

// Progress describes where a running task currently is.
type Progress struct {
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
}

// CacheStats summarizes match cache behavior for one task.
type CacheStats struct {
	DistributedHits int `json:"distributed_hits"`
	LocalHits       int `json:"local_hits"`
	Misses          int `json:"misses"`
	AICalls         int `json:"ai_calls"`
	AIFailures      int `json:"ai_failures"`
	Heuristic       int `json:"heuristic"`
}

// TaskResult is the summary attached to a successful task.
type TaskResult struct {
	JobsFound       int        `json:"jobs_found"`
	JobsSaved       int        `json:"jobs_saved"`
	JobsScored      int        `json:"jobs_scored"`
	HeuristicScores int        `json:"heuristic_scores"`
	ScraperMode     string     `json:"scraper_mode"`
	TopMatchScore   int        `json:"top_match_score"`
	JobIDs          []string   `json:"job_ids"`
	Warnings        []string   `json:"warnings,omitempty"`
	CacheStats      CacheStats `json:"cache_stats"`
}

// Task is the status record kept for every submitted search.
type Task struct {
	ID          string        `json:"task_id"`
	Status      TaskStatus    `json:"status"`
	Request     SearchRequest `json:"request"`
	Progress    *Progress     `json:"progress,omitempty"`
	Result      *TaskResult   `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	TaskID    string
	Request   SearchRequest
	Attempt   int
	Submitted int64
}

// Cookie is a browser session cookie bound to a credential.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Expires  *time.Time `json:"expires,omitempty"`
	Secure   bool       `json:"secure"`
	HTTPOnly bool       `json:"http_only"`
}

// Credential is a scraping identity subject to a daily quota and failure cooldown.
type Credential struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	Active            bool       `json:"active"`
	IsPremium         bool       `json:"is_premium"`
	DailyRequestCount int        `json:"daily_request_count"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	CooldownUntil     *time.Time `json:"cooldown_until,omitempty"`
	LeasedUntil       *time.Time `json:"leased_until,omitempty"`
	Cookies           []Cookie   `json:"cookies,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Eligible reports whether the credential may be handed out at now.
func (c Credential) Eligible(now time.Time, dailyLimit int) bool {
	if !c.Active || c.DailyRequestCount >= dailyLimit {
		return false
	}
	if c.CooldownUntil != nil && c.CooldownUntil.After(now) {
		return false
	}
	if c.LeasedUntil != nil && c.LeasedUntil.After(now) {
		return false
	}
	return true
}

// SelectedBefore orders credentials for selection: premium first, least recently
// used next (never used first), then by ID.
func (c Credential) SelectedBefore(other Credential) bool {
	if c.IsPremium != other.IsPremium {
		return c.IsPremium
	}
	switch {
	case c.LastUsedAt == nil && other.LastUsedAt != nil:
		return true
	case c.LastUsedAt != nil && other.LastUsedAt == nil:
		return false
	case c.LastUsedAt != nil && other.LastUsedAt != nil && !c.LastUsedAt.Equal(*other.LastUsedAt):
		return c.LastUsedAt.Before(*other.LastUsedAt)
	}
	return c.ID < other.ID
}

// JobPosting is a deduplicated external job listing.
type JobPosting struct {
	ExternalID   string            `json:"external_id"`
	Title        string            `json:"title"`
	Company      string            `json:"company,omitempty"`
	Location     string            `json:"location,omitempty"`
	Description  string            `json:"description,omitempty"`
	URL          string            `json:"url,omitempty"`
	PostedAt     string            `json:"posted_at,omitempty"`
	Remote       bool              `json:"remote"`
	Raw          map[string]string `json:"raw,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
	SourceTaskID string            `json:"source_task_id,omitempty"`
}

// ExperienceFit buckets how well a candidate's experience matches a posting.
type ExperienceFit string

// Experience fit categories.
const (
	FitWeak      ExperienceFit = "weak"
	FitModerate  ExperienceFit = "moderate"
	FitStrong    ExperienceFit = "strong"
	FitExcellent ExperienceFit = "excellent"
)

// ParseExperienceFit maps free text to a known category.
func ParseExperienceFit(s string) (ExperienceFit, bool) {
	switch ExperienceFit(s) {
	case FitWeak, FitModerate, FitStrong, FitExcellent:
		return ExperienceFit(s), true
	default:
		return "", false
	}
}

// FitForScore derives a fit category from a score.
func FitForScore(score int) ExperienceFit {
	switch {
	case score >= 85:
		return FitExcellent
	case score >= 75:
		return FitStrong
	case score >= 55:
		return FitModerate
	default:
		return FitWeak
	}
}

// Match result sources.
const (
	SourceAI        = "ai"
	SourceHeuristic = "heuristic"
	SourceCache     = "cache"
)

// MatchResult is the relevance of one posting to one profile.
type MatchResult struct {
	ExternalID         string        `json:"external_id"`
	ProfileFingerprint string        `json:"profile_fingerprint"`
	Score              int           `json:"score"`
	MatchingSkills     []string      `json:"matching_skills"`
	MissingSkills      []string      `json:"missing_skills"`
	ExperienceFit      ExperienceFit `json:"experience_fit"`
	Reasoning          string        `json:"reasoning"`
	Source             string        `json:"source"`
	CachedAt           time.Time     `json:"cached_at"`
	ScoredAt           time.Time     `json:"scored_at"`
	TTL                time.Duration `json:"ttl"`
}

// ClampScore forces a score into [0,100].
func ClampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// ScoredJob joins a posting with its match for listing.
type ScoredJob struct {
	JobPosting
	Match MatchResult `json:"match"`
}

// Profile is the candidate data the matcher scores against.
type Profile struct {
	Ref             string   `json:"profile_ref"`
	Summary         string   `json:"summary"`
	TechnicalSkills []string `json:"technical_skills"`
	SoftSkills      []string `json:"soft_skills"`
	Industries      []string `json:"industries"`
	YearsExperience int      `json:"years_experience"`
	TargetRoles     []string `json:"target_roles"`
}

// TaskEvent is published when a task reaches a terminal state.
type TaskEvent struct {
	TaskID      string      `json:"task_id"`
	ProfileRef  string      `json:"profile_ref"`
	Status      TaskStatus  `json:"status"`
	Result      *TaskResult `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	ErrorKind   string      `json:"error_kind,omitempty"`
	CompletedAt time.Time   `json:"completed_at"`
}

// CredentialStats summarizes pool availability.
type CredentialStats struct {
	TotalActive             int `json:"total_active"`
	Available               int `json:"available"`
	RateLimited             int `json:"rate_limited"`
	InCooldown              int `json:"in_cooldown"`
	InUse                   int `json:"in_use"`
	DailyLimitPerCredential int `json:"daily_limit_per_credential"`
	CooldownMinutes         int `json:"cooldown_minutes"`
}
