package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/config"
	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/tasks"
)

func TestBuildInMemory(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = "local"
	cfg.Storage.Local.BaseDir = t.TempDir()

	app, err := Build(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close(context.Background()) //nolint:errcheck // test cleanup

	require.Nil(t, app.Stores().Postgres)
	require.Nil(t, app.redis)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/searches",
		bytes.NewBufferString(`{"profile_ref":"p1","query":"platform engineer"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var receipt tasks.SubmitReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/searches/"+receipt.TaskID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var view tasks.StatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, discovery.TaskStatusPending, view.Status)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildWithRedis(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Tasks.Backend = "redis"
	cfg.Scraper.PrimaryEnabled = false

	app, err := Build(context.Background(), &cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close(context.Background()) //nolint:errcheck // test cleanup

	receipt, err := app.Tasks().Submit(context.Background(), discovery.SearchRequest{ProfileRef: "p1", Query: "sre"})
	require.NoError(t, err)
	require.True(t, mr.Exists("discovery_task:"+receipt.TaskID))

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	mr.SetError("LOADING dataset in memory")
	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Redis.URL = "redis://127.0.0.1:1/0"

	_, err = Build(context.Background(), &cfg, zap.NewNop())
	require.ErrorContains(t, err, "redis init failed")
}

func TestCredentialPoolFromStores(t *testing.T) {
	t.Parallel()

	stores, err := OpenStores(context.Background(), config.DatabaseConfig{}, zap.NewNop())
	require.NoError(t, err)
	defer stores.Close()

	ctx := context.Background()
	require.NoError(t, stores.Credentials.Add(ctx, discovery.Credential{ID: "c1", Email: "a@b.c", Active: true}))
	list, err := stores.Credentials.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Same(t, stores.Jobs, stores.Matches)
}
