// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/api"
	memorycache "github.com/JakeFAU/jobdiscovery/internal/cache/memory"
	rediscache "github.com/JakeFAU/jobdiscovery/internal/cache/redis"
	"github.com/JakeFAU/jobdiscovery/internal/clock/system"
	"github.com/JakeFAU/jobdiscovery/internal/config"
	"github.com/JakeFAU/jobdiscovery/internal/credentials"
	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/dispatcher"
	collyengine "github.com/JakeFAU/jobdiscovery/internal/engine/colly"
	"github.com/JakeFAU/jobdiscovery/internal/engine/stealth"
	"github.com/JakeFAU/jobdiscovery/internal/hash/sha256"
	"github.com/JakeFAU/jobdiscovery/internal/id/uuid"
	"github.com/JakeFAU/jobdiscovery/internal/llm"
	"github.com/JakeFAU/jobdiscovery/internal/llm/openai"
	"github.com/JakeFAU/jobdiscovery/internal/logging"
	"github.com/JakeFAU/jobdiscovery/internal/match"
	"github.com/JakeFAU/jobdiscovery/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/jobdiscovery/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/jobdiscovery/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/jobdiscovery/internal/queue/memory"
	"github.com/JakeFAU/jobdiscovery/internal/schedule"
	"github.com/JakeFAU/jobdiscovery/internal/scrape"
	gcsstorage "github.com/JakeFAU/jobdiscovery/internal/storage/gcs"
	localstorage "github.com/JakeFAU/jobdiscovery/internal/storage/local"
	memorystorage "github.com/JakeFAU/jobdiscovery/internal/storage/memory"
	redisstorage "github.com/JakeFAU/jobdiscovery/internal/storage/redis"
	"github.com/JakeFAU/jobdiscovery/internal/tasks"
	"github.com/JakeFAU/jobdiscovery/internal/telemetry"
	"github.com/JakeFAU/jobdiscovery/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	scheduler *schedule.Scheduler
	queue     *queuememory.Queue
	stores    *Stores
	redis     *goredis.Client
	stealth   *stealth.Engine
	blobs     *gcsstorage.BlobStore
	pubsub    *gcppublisher.Publisher
	pool      *credentials.Pool
	tasks     *tasks.Service

	tracerShutdown func(context.Context) error
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Tasks exposes the submission service.
func (a *App) Tasks() *tasks.Service {
	return a.tasks
}

// Pool exposes the credential pool.
func (a *App) Pool() *credentials.Pool {
	return a.pool
}

// Stores exposes the persistent stores.
func (a *App) Stores() *Stores {
	return a.stores
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil {
			a.logger.Warn("scheduler stopped with error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	wg.Wait()

	return a.Close(shutdownCtx)
}

// Close releases infrastructure and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.stealth != nil {
		a.stealth.Close()
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.blobs != nil {
		if err := a.blobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.stores != nil {
		a.stores.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

// NewLogger builds the process logger from cfg and installs it globally.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			_ = app.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Worker.Concurrency),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("tasks_backend", cfg.Tasks.Backend),
		zap.Bool("ai_enabled", cfg.AIEnabled()),
	)

	clock := system.New()
	ids := uuid.New()
	hasher := sha256.New()

	if app.stores, err = OpenStores(ctx, cfg.Database, logger); err != nil {
		return nil, err
	}
	if err = setupRedis(ctx, app); err != nil {
		return nil, err
	}
	taskStore, pruner := setupTaskStore(app)

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	app.pool = credentials.NewPool(app.stores.Credentials, clock, ids, credentials.Config{
		DailyLimit: cfg.Credentials.DailyLimit,
		Cooldown:   cfg.Credentials.Cooldown,
		Lease:      cfg.Credentials.Lease,
	}, logger.Named("credentials"))

	scraper, err := setupScraper(app, blobStore, hasher, clock)
	if err != nil {
		return nil, err
	}
	scorer := setupScorer(app, hasher, clock)

	app.queue = queuememory.NewQueue(cfg.Worker.QueueDepth)
	workerCfg := worker.Config{
		TaskTimeout: cfg.Worker.TaskTimeout,
		Topic:       cfg.PubSub.TopicName,
	}
	runners := make([]dispatcher.Runner, 0, cfg.Worker.Concurrency)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		runners = append(runners, worker.New(worker.Deps{
			Queue:     app.queue,
			Tasks:     taskStore,
			Pool:      app.pool,
			Scraper:   scraper,
			Scorer:    scorer,
			Jobs:      app.stores.Jobs,
			Matches:   app.stores.Matches,
			Profiles:  app.stores.Profiles,
			Publisher: publisher,
			Hasher:    hasher,
			Clock:     clock,
		}, workerCfg, logger.Named("worker").With(zap.Int("index", i))))
	}
	app.dispatch = dispatcher.New(app.queue, runners)

	app.tasks = tasks.NewService(taskStore, app.dispatch, ids, clock, tasks.Config{
		EnqueueTimeout: cfg.Tasks.EnqueueTimeout,
	}, logger.Named("tasks"))

	if app.scheduler, err = setupScheduler(ctx, app, pruner, clock); err != nil {
		return nil, err
	}

	apiCfg := api.Config{RequestTimeout: cfg.Server.RequestTimeout}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(api.Deps{
		Tasks:       app.tasks,
		Matches:     app.stores.Matches,
		Credentials: app.pool,
		Ready:       readinessChecks(app),
		Logger:      logger,
	}, apiCfg)

	built = true
	return app, nil
}

func setupRedis(ctx context.Context, app *App) error {
	if app.cfg.Redis.URL == "" {
		app.logger.Warn("no redis url configured, distributed match cache disabled")
		return nil
	}
	client, err := rediscache.Connect(ctx, app.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	app.redis = client
	app.logger.Info("redis connected")
	return nil
}

// setupTaskStore returns the status store and, for the in-memory backend, the
// pruner the scheduler drives. Redis expires finished records on its own.
func setupTaskStore(app *App) (discovery.TaskStore, schedule.TaskPruner) {
	if app.cfg.Tasks.Backend == "redis" {
		app.logger.Info("using redis task store", zap.Duration("retention", app.cfg.Tasks.Retention))
		return redisstorage.NewTaskStore(app.redis, redisstorage.Config{Retention: app.cfg.Tasks.Retention}), nil
	}
	app.logger.Info("using in-memory task store", zap.Duration("retention", app.cfg.Tasks.Retention))
	store := memorystorage.NewTaskStore()
	return store, store
}

func setupStorage(ctx context.Context, app *App) (discovery.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.blobs = blobs
		return blobs, nil
	case "local":
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (discovery.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Open(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubsub = pub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return pub, nil
}

func setupScraper(app *App, blobs discovery.BlobStore, hasher discovery.Hasher, clock discovery.Clock) (*scrape.Scraper, error) {
	sc := app.cfg.Scraper
	light, err := collyengine.New(collyengine.Config{
		BaseURL:    sc.BaseURL,
		UserAgents: sc.UserAgents,
		Timeout:    sc.NavigationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("colly engine init failed: %w", err)
	}

	var primary, fallback scrape.Engine
	if sc.PrimaryEnabled {
		app.stealth, err = stealth.New(stealth.Config{
			MaxParallel:       sc.MaxParallel,
			UserAgents:        sc.UserAgents,
			NavigationTimeout: sc.NavigationTimeout,
			MinDelay:          sc.MinDelay,
			MaxDelay:          sc.MaxDelay,
			CookieDomain:      sc.CookieDomain,
		})
		if err != nil {
			return nil, fmt.Errorf("stealth engine init failed: %w", err)
		}
		primary = app.stealth
		if sc.FallbackEnabled {
			fallback = light
		}
	} else {
		primary = light
	}
	app.logger.Info("scrape engines configured",
		zap.String("primary", primary.Name()),
		zap.Bool("fallback", fallback != nil),
		zap.Float64("rps", sc.RPS),
	)

	return scrape.New(scrape.Deps{
		Primary:  primary,
		Fallback: fallback,
		Limiter:  ratelimit.New(ratelimit.Config{RPS: sc.RPS, Burst: sc.Burst}),
		Blobs:    blobs,
		Hasher:   hasher,
		Clock:    clock,
		Logger:   app.logger.Named("scrape"),
	}, scrape.Config{
		BaseURL:        sc.BaseURL,
		FetchDetails:   sc.FetchDetails,
		SnapshotPrefix: app.cfg.Storage.Prefix,
	})
}

func setupScorer(app *App, hasher discovery.Hasher, clock discovery.Clock) *match.Scorer {
	mc := app.cfg.Matcher
	var provider llm.Provider = llm.Disabled{}
	if app.cfg.AIEnabled() {
		provider = openai.New(openai.Config{
			BaseURL:      app.cfg.LLM.BaseURL,
			APIKey:       app.cfg.LLM.APIKey,
			Model:        app.cfg.LLM.Model,
			Temperature:  app.cfg.LLM.Temperature,
			MaxTokens:    app.cfg.LLM.MaxTokens,
			SystemPrompt: match.SystemPrompt,
			SchemaName:   match.SchemaName,
			Schema:       match.ResponseSchema,
		}, &http.Client{Timeout: app.cfg.LLM.HTTPTimeout})
	} else {
		app.logger.Warn("no llm api key configured, every posting will be scored heuristically")
	}

	deps := match.Deps{
		Local:    memorycache.New(mc.LocalCacheSize),
		Provider: provider,
		Limiter:  ratelimit.New(ratelimit.Config{RPS: mc.RPS, Burst: mc.Burst}),
		Hasher:   hasher,
		Clock:    clock,
		Logger:   app.logger.Named("match"),
	}
	if app.redis != nil {
		deps.Distributed = rediscache.New(app.redis)
	}
	return match.NewScorer(deps, match.Config{
		Concurrency: mc.Concurrency,
		AITimeout:   mc.AITimeout,
		CacheTTL:    mc.CacheTTL,
		LocalTTL:    mc.LocalCacheTTL,
	})
}

func setupScheduler(ctx context.Context, app *App, pruner schedule.TaskPruner, clock discovery.Clock) (*schedule.Scheduler, error) {
	s := schedule.New(app.logger, time.UTC)
	if spec := app.cfg.Credentials.ResetSchedule; spec != "" {
		if err := s.Add(ctx, schedule.ResetCredentials(spec, app.pool)); err != nil {
			return nil, err
		}
	}
	if spec := app.cfg.Tasks.PruneSchedule; spec != "" && pruner != nil {
		job := schedule.PruneTasks(spec, pruner, clock, app.cfg.Tasks.Retention, app.logger.Named("tasks"))
		if err := s.Add(ctx, job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func readinessChecks(app *App) map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{}
	if app.stores.Postgres != nil {
		checks["postgres"] = app.stores.Postgres.Ping
	}
	if app.redis != nil {
		client := app.redis
		checks["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}
	return checks
}
