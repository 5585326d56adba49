package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/metrics"
	"github.com/JakeFAU/jobdiscovery/internal/policy/ratelimit"
)

// NoCardsWarning marks a successful scrape that found nothing.
const NoCardsWarning = "no job cards found"

// Outcome is the tagged result of Scrape. Exactly one of Engine (success) or
// Reasons (failure) is set.
type Outcome struct {
	Engine   string
	Postings []discovery.JobPosting
	Warnings []string
	Reasons  []error
}

// Succeeded reports whether some engine completed.
func (o Outcome) Succeeded() bool {
	return o.Engine != ""
}

// Err returns the failure as a *discovery.ScrapeEngineError, or nil on success.
func (o Outcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	return &discovery.ScrapeEngineError{Reasons: o.Reasons}
}

// Config controls search behavior.
type Config struct {
	BaseURL        string
	FetchDetails   bool
	SnapshotPrefix string
}

// Scraper drives the primary engine and, on failure, the fallback once.
type Scraper struct {
	primary  Engine
	fallback Engine
	cfg      Config
	limiter  *ratelimit.Limiter
	blobs    discovery.BlobStore
	hasher   discovery.Hasher
	clock    discovery.Clock
	logger   *zap.Logger
}

// Deps groups the collaborators of a Scraper. Fallback, Limiter and Blobs may be nil.
type Deps struct {
	Primary  Engine
	Fallback Engine
	Limiter  *ratelimit.Limiter
	Blobs    discovery.BlobStore
	Hasher   discovery.Hasher
	Clock    discovery.Clock
	Logger   *zap.Logger
}

// New builds a Scraper.
func New(deps Deps, cfg Config) (*Scraper, error) {
	if deps.Primary == nil {
		return nil, errors.New("primary engine is required")
	}
	if deps.Hasher == nil || deps.Clock == nil {
		return nil, errors.New("hasher and clock are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.linkedin.com"
	}
	if cfg.SnapshotPrefix == "" {
		cfg.SnapshotPrefix = "snapshots"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		primary:  deps.Primary,
		fallback: deps.Fallback,
		cfg:      cfg,
		limiter:  deps.Limiter,
		blobs:    deps.Blobs,
		hasher:   deps.Hasher,
		clock:    deps.Clock,
		logger:   logger,
	}, nil
}

// Scrape runs the search for taskID with cred.
func (s *Scraper) Scrape(ctx context.Context, taskID string, cred discovery.Credential, req discovery.SearchRequest) Outcome {
	logger := s.logger.With(zap.String("task_id", taskID), zap.String("credential_id", cred.ID))

	postings, warnings, err := s.attempt(ctx, s.primary, taskID, cred, req)
	if err == nil {
		metrics.ObserveScrape(s.primary.Name(), "ok")
		return Outcome{Engine: discovery.ScraperModePrimary, Postings: postings, Warnings: warnings}
	}
	metrics.ObserveScrape(s.primary.Name(), failureOutcome(err))
	reasons := []error{fmt.Errorf("%s: %w", s.primary.Name(), err)}

	if s.fallback == nil {
		return Outcome{Reasons: reasons}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{Reasons: append(reasons, fmt.Errorf("%s: skipped: %w", s.fallback.Name(), ctxErr))}
	}
	logger.Warn("primary engine failed, trying fallback",
		zap.String("engine", s.primary.Name()),
		zap.String("fallback", s.fallback.Name()),
		zap.Error(err),
	)

	postings, warnings, err = s.attempt(ctx, s.fallback, taskID, cred, req)
	if err == nil {
		metrics.ObserveScrape(s.fallback.Name(), "ok")
		return Outcome{Engine: discovery.ScraperModeFallback, Postings: postings, Warnings: warnings}
	}
	metrics.ObserveScrape(s.fallback.Name(), failureOutcome(err))
	return Outcome{Reasons: append(reasons, fmt.Errorf("%s: %w", s.fallback.Name(), err))}
}

func failureOutcome(err error) string {
	if errors.Is(err, ErrBlocked) {
		return "blocked"
	}
	return "error"
}

// warnings aggregates partial-extraction problems for one attempt.
type warnings struct {
	missing      map[string]int
	dropped      int
	detailErrors int
	messages     []string
}

func (w *warnings) list(total int) []string {
	out := append([]string(nil), w.messages...)
	if w.dropped > 0 {
		out = append(out, fmt.Sprintf("%d cards dropped: missing title", w.dropped))
	}
	fields := make([]string, 0, len(w.missing))
	for f := range w.missing {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		out = append(out, fmt.Sprintf("%d cards missing %s", w.missing[f], f))
	}
	if w.detailErrors > 0 {
		out = append(out, fmt.Sprintf("%d detail pages failed", w.detailErrors))
	}
	if total == 0 {
		out = append(out, NoCardsWarning)
	}
	return out
}

func (s *Scraper) attempt(
	ctx context.Context,
	engine Engine,
	taskID string,
	cred discovery.Credential,
	req discovery.SearchRequest,
) (postings []discovery.JobPosting, warned []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			postings, warned = nil, nil
			err = fmt.Errorf("extraction panicked: %v", r)
		}
	}()

	session, err := engine.Open(ctx, cred)
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	w := &warnings{missing: map[string]int{}}
	seen := map[string]bool{}
	pages := PageCount(req.MaxResults)

	for page := 1; page <= pages && len(postings) < req.MaxResults; page++ {
		target := SearchURL(s.cfg.BaseURL, req, page)
		body, err := s.fetch(ctx, session, target)
		if err != nil {
			if page == 1 {
				return nil, nil, fmt.Errorf("load first page: %w", err)
			}
			w.messages = append(w.messages, fmt.Sprintf("page %d failed to load: %v", page, err))
			break
		}
		s.archive(ctx, taskID, page, body)

		records, err := ExtractCards(body)
		if err != nil {
			if page == 1 {
				return nil, nil, fmt.Errorf("extract first page: %w", err)
			}
			w.messages = append(w.messages, fmt.Sprintf("page %d could not be parsed: %v", page, err))
			break
		}
		if len(records) == 0 {
			if page > 1 {
				w.messages = append(w.messages, fmt.Sprintf("page %d returned no job cards", page))
			}
			break
		}

		for _, rec := range records {
			if len(postings) >= req.MaxResults {
				break
			}
			posting, ok := s.normalize(ctx, session, taskID, rec, w)
			if !ok || seen[posting.ExternalID] {
				continue
			}
			seen[posting.ExternalID] = true
			postings = append(postings, posting)
		}
	}
	return postings, w.list(len(postings)), nil
}

func (s *Scraper) normalize(
	ctx context.Context,
	session Session,
	taskID string,
	rec discovery.JobRecord,
	w *warnings,
) (discovery.JobPosting, bool) {
	if s.cfg.FetchDetails && rec.Description == "" {
		if link := discovery.CleanURL(s.cfg.BaseURL, rec.URL); link != "" {
			body, err := s.fetch(ctx, session, link)
			if err == nil {
				rec.Description, err = ExtractDescription(body)
			}
			if err != nil {
				w.detailErrors++
			}
		}
	}
	posting, missing, err := rec.Normalize(s.cfg.BaseURL, s.clock.Now(), s.hasher)
	if err != nil {
		w.dropped++
		return discovery.JobPosting{}, false
	}
	for _, f := range missing {
		// Descriptions only exist on detail pages.
		if f == "description" && !s.cfg.FetchDetails {
			continue
		}
		w.missing[f]++
	}
	posting.SourceTaskID = taskID
	return posting, true
}

func (s *Scraper) fetch(ctx context.Context, session Session, target string) ([]byte, error) {
	if err := s.limiter.WaitURL(ctx, target); err != nil {
		return nil, err
	}
	page, err := session.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	if page.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", page.StatusCode)
	}
	if reason := DetectBlock(page); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, reason)
	}
	return page.Body, nil
}

func (s *Scraper) archive(ctx context.Context, taskID string, page int, body []byte) {
	if s.blobs == nil {
		return
	}
	key := path.Join(s.cfg.SnapshotPrefix, taskID, fmt.Sprintf("page-%d.html", page))
	uri, err := s.blobs.PutObject(ctx, key, "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("snapshot archive failed", zap.String("task_id", taskID), zap.String("path", key), zap.Error(err))
		return
	}
	s.logger.Debug("snapshot archived", zap.String("uri", uri))
}

// Summary renders an outcome for logs.
func (o Outcome) Summary() string {
	if o.Succeeded() {
		return fmt.Sprintf("%s: %d postings, %d warnings", o.Engine, len(o.Postings), len(o.Warnings))
	}
	parts := make([]string, 0, len(o.Reasons))
	for _, r := range o.Reasons {
		parts = append(parts, r.Error())
	}
	return "failed: " + strings.Join(parts, "; ")
}
