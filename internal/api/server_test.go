package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/credentials"
	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	queuememory "github.com/JakeFAU/jobdiscovery/internal/queue/memory"
	"github.com/JakeFAU/jobdiscovery/internal/storage/memory"
	"github.com/JakeFAU/jobdiscovery/internal/tasks"
)

func TestServer_SubmitSearch_Accepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4)
	rec := env.do(http.MethodPost, "/v1/searches", `{"profile_ref":"p1","query":"golang","max_results":10}`, nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var receipt tasks.SubmitReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.Equal(t, "task-1", receipt.TaskID)
	require.Equal(t, "started", receipt.Status)
	require.Equal(t, 120, receipt.EstimatedTimeSeconds)

	item, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "task-1", item.TaskID)
	require.Equal(t, 10, item.Request.MaxResults)
}

func TestServer_SubmitSearch_Rejects(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/searches", `{`, nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/searches", `{"profile_ref":"p1"}`, nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/v1/searches", `{"query":"go"}`, nil).Code)
}

func TestServer_SubmitSearch_QueueFull(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	body := `{"profile_ref":"p1","query":"go"}`
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/v1/searches", body, nil).Code)

	rec := env.do(http.MethodPost, "/v1/searches", body, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(http.MethodGet, "/v1/searches/task-2", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetSearch(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4)
	ctx := context.Background()
	require.NoError(t, env.tasks.Create(ctx, discovery.Task{ID: "t-run", Status: discovery.TaskStatusPending}))
	_, err := env.tasks.Transition(ctx, "t-run", discovery.TaskStatusPending, discovery.TaskStatusStarted, nil)
	require.NoError(t, err)
	require.NoError(t, env.tasks.UpdateProgress(ctx, "t-run", discovery.Progress{Stage: "scraping", Percent: 15}))

	rec := env.do(http.MethodGet, "/v1/searches/t-run", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view tasks.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, discovery.TaskStatusStarted, view.Status)
	require.NotNil(t, view.Progress)
	require.Equal(t, "scraping", view.Progress.Stage)

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/searches/missing", "", nil).Code)
}

func TestServer_ListProfileJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seed := []struct {
		id    string
		score int
		at    time.Time
	}{
		{"j1", 90, base},
		{"j2", 75, base.Add(time.Hour)},
		{"j3", 75, base.Add(2 * time.Hour)},
		{"j4", 20, base},
	}
	for _, s := range seed {
		_, err := env.jobs.SaveIfAbsent(ctx, discovery.JobPosting{
			ExternalID:   s.id,
			Title:        "Engineer " + s.id,
			Description:  strings.Repeat("é", 1500),
			Raw:          map[string]string{"card_id": s.id},
			DiscoveredAt: s.at,
		})
		require.NoError(t, err)
		require.NoError(t, env.jobs.SaveMatch(ctx, "p1", discovery.MatchResult{ExternalID: s.id, Score: s.score, Source: "ai"}))
	}

	rec := env.do(http.MethodGet, "/v1/profiles/p1/jobs?min_score=50", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp profileJobsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Count)
	ids := []string{resp.Jobs[0].ExternalID, resp.Jobs[1].ExternalID, resp.Jobs[2].ExternalID}
	require.Equal(t, []string{"j1", "j3", "j2"}, ids)
	require.Equal(t, ListDescriptionLimit, len([]rune(resp.Jobs[0].Description)))
	require.Nil(t, resp.Jobs[0].Raw)

	rec = env.do(http.MethodGet, "/v1/profiles/p1/jobs?limit=1", "", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)

	rec = env.do(http.MethodGet, "/v1/profiles/nobody/jobs", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"jobs":[]`)

	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/profiles/p1/jobs?limit=0", "", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/profiles/p1/jobs?min_score=abc", "", nil).Code)
	require.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/v1/profiles/p1/jobs?min_score=101", "", nil).Code)
}

func TestServer_ListProfileJobs_ClampsLimit(t *testing.T) {
	t.Parallel()

	matches := &recordingMatches{}
	srv := NewServer(Deps{Matches: matches}, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/profiles/p1/jobs?limit=5000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, MaxListLimit, matches.limit)

	matches.err = errors.New("db down")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/profiles/p1/jobs", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, DefaultListLimit, matches.limit)
}

func TestServer_CredentialStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4)
	rec := env.do(http.MethodGet, "/v1/credentials/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats discovery.CredentialStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 2, stats.TotalActive)
	require.Equal(t, 2, stats.Available)
	require.Equal(t, 100, stats.DailyLimitPerCredential)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, func(cfg *Config) { cfg.APIKey = "secret" })

	require.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/v1/credentials/stats", "", nil).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/v1/credentials/stats", "", map[string]string{"X-API-Key": "secret"}).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", nil).Code, "probes stay open")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	var fail bool
	srv := NewServer(Deps{Ready: map[string]ReadinessCheck{
		"redis": func(context.Context) error {
			if fail {
				return errors.New("connection refused")
			}
			return nil
		},
	}}, Config{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	fail = true
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{}, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Tasks: panicTasks{}}, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/searches/x", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{}, Config{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc", truncate("abc", 5))
	require.Equal(t, "ab", truncate("abc", 2))
	require.Equal(t, "日本", truncate("日本語", 2))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type testEnv struct {
	t      *testing.T
	server *Server
	queue  *queuememory.Queue
	tasks  *memory.TaskStore
	jobs   *memory.JobStore
}

func newTestEnv(t *testing.T, queueDepth int, opts ...func(*Config)) *testEnv {
	t.Helper()

	ctx := context.Background()
	clock := fixedClock{}
	env := &testEnv{
		t:     t,
		queue: queuememory.NewQueue(queueDepth),
		tasks: memory.NewTaskStore(),
		jobs:  memory.NewJobStore(),
	}
	creds := memory.NewCredentialStore()
	require.NoError(t, creds.Add(ctx, discovery.Credential{ID: "a", Active: true}))
	require.NoError(t, creds.Add(ctx, discovery.Credential{ID: "b", Active: true}))
	pool := credentials.NewPool(creds, clock, &fakeIDGen{}, credentials.Config{}, zap.NewNop())
	svc := tasks.NewService(env.tasks, env.queue, &fakeIDGen{}, clock, tasks.Config{EnqueueTimeout: 20 * time.Millisecond}, zap.NewNop())

	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.server = NewServer(Deps{
		Tasks:       svc,
		Matches:     env.jobs,
		Credentials: pool,
		Logger:      zap.NewNop(),
	}, cfg)
	return env
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("task-%d", f.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Date(2024, 6, 2, 8, 0, 0, 0, time.UTC)
}

type recordingMatches struct {
	discovery.MatchStore
	limit int
	err   error
}

func (m *recordingMatches) ListScored(_ context.Context, _ string, _, limit int) ([]discovery.ScoredJob, error) {
	m.limit = limit
	return nil, m.err
}

type panicTasks struct{}

func (panicTasks) Submit(context.Context, discovery.SearchRequest) (tasks.SubmitReceipt, error) {
	panic("boom")
}

func (panicTasks) Status(context.Context, string) (tasks.StatusView, error) {
	panic("boom")
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
