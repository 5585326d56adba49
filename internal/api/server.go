package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/metrics"
	"github.com/JakeFAU/jobdiscovery/internal/tasks"
)

// Listing limits for the ranked jobs endpoint.
const (
	DefaultListLimit     = 50
	MaxListLimit         = 200
	ListDescriptionLimit = 1000
)

// TaskService submits and reports discovery tasks.
type TaskService interface {
	Submit(ctx context.Context, req discovery.SearchRequest) (tasks.SubmitReceipt, error)
	Status(ctx context.Context, taskID string) (tasks.StatusView, error)
}

// CredentialReporter summarizes the credential pool.
type CredentialReporter interface {
	Stats(ctx context.Context) (discovery.CredentialStats, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps groups the collaborators of a Server.
type Deps struct {
	Tasks       TaskService
	Matches     discovery.MatchStore
	Credentials CredentialReporter
	// Ready is keyed by dependency name.
	Ready  map[string]ReadinessCheck
	Logger *zap.Logger
}

// Config tunes the HTTP surface. An empty APIKey disables the key check.
type Config struct {
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the task service and stores.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{deps: deps, logger: deps.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Post("/searches", s.submitSearch)
		r.Get("/searches/{task_id}", s.getSearch)
		r.Get("/profiles/{profile_ref}/jobs", s.listProfileJobs)
		r.Get("/credentials/stats", s.credentialStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.deps.Ready))
	for name := range s.deps.Ready {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := map[string]string{}
	for _, name := range names {
		if err := s.deps.Ready[name](r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var req discovery.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	receipt, err := s.deps.Tasks.Submit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, tasks.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, tasks.ErrQueueFull):
			writeError(w, http.StatusServiceUnavailable, "task queue is full, retry later")
		default:
			s.logger.Error("submit search failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit search")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (s *Server) getSearch(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	view, err := s.deps.Tasks.Status(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, discovery.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("task status failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type profileJobsResponse struct {
	ProfileRef string                `json:"profile_ref"`
	Count      int                   `json:"count"`
	Jobs       []discovery.ScoredJob `json:"jobs"`
}

func (s *Server) listProfileJobs(w http.ResponseWriter, r *http.Request) {
	profileRef := chi.URLParam(r, "profile_ref")
	minScore, err := intQuery(r, "min_score", 0)
	if err != nil || minScore < 0 || minScore > 100 {
		writeError(w, http.StatusBadRequest, "min_score must be an integer in [0,100]")
		return
	}
	limit, err := intQuery(r, "limit", DefaultListLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	jobs, err := s.deps.Matches.ListScored(r.Context(), profileRef, minScore, limit)
	if err != nil {
		s.logger.Error("list scored jobs failed", zap.String("profile_ref", profileRef), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	for i := range jobs {
		jobs[i].Description = truncate(jobs[i].Description, ListDescriptionLimit)
		jobs[i].Raw = nil
	}
	if jobs == nil {
		jobs = []discovery.ScoredJob{}
	}
	writeJSON(w, http.StatusOK, profileJobsResponse{ProfileRef: profileRef, Count: len(jobs), Jobs: jobs})
}

func (s *Server) credentialStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Credentials.Stats(r.Context())
	if err != nil {
		s.logger.Error("credential stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load credential stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	return v, nil
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
