// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Scraper     ScraperConfig     `mapstructure:"scraper"`
	Matcher     MatcherConfig     `mapstructure:"matcher"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Tasks       TasksConfig       `mapstructure:"tasks"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// WorkerConfig sizes the worker pool and its queue.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	QueueDepth  int           `mapstructure:"queue_depth"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// CredentialsConfig governs quotas and cooldowns of the credential pool.
type CredentialsConfig struct {
	DailyLimit    int           `mapstructure:"daily_limit"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
	Lease         time.Duration `mapstructure:"lease"`
	ResetSchedule string        `mapstructure:"reset_schedule"`
}

// ScraperConfig configures both scrape engines and their pacing.
type ScraperConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	PrimaryEnabled    bool          `mapstructure:"primary_enabled"`
	FallbackEnabled   bool          `mapstructure:"fallback_enabled"`
	UserAgents        []string      `mapstructure:"user_agents"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	FetchDetails      bool          `mapstructure:"fetch_details"`
	RPS               float64       `mapstructure:"rps"`
	Burst             int           `mapstructure:"burst"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	CookieDomain      string        `mapstructure:"cookie_domain"`
}

// MatcherConfig configures the match scorer and its cache tiers.
type MatcherConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	AITimeout      time.Duration `mapstructure:"ai_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	LocalCacheSize int           `mapstructure:"local_cache_size"`
	LocalCacheTTL  time.Duration `mapstructure:"local_cache_ttl"`
	RPS            float64       `mapstructure:"rps"`
	Burst          int           `mapstructure:"burst"`
}

// LLMConfig points the scorer at an OpenAI-compatible endpoint. An empty APIKey
// disables the AI path.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// RedisConfig locates the shared Redis. An empty URL disables the distributed cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Tables          TablesConfig  `mapstructure:"tables"`
}

// TablesConfig names the Postgres tables.
type TablesConfig struct {
	Jobs        string `mapstructure:"jobs"`
	Matches     string `mapstructure:"matches"`
	Credentials string `mapstructure:"credentials"`
	Profiles    string `mapstructure:"profiles"`
}

// StorageConfig selects where page snapshots go.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Bucket  string             `mapstructure:"bucket"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem snapshot backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds the completion event destination. An empty topic disables events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TasksConfig controls the task status store.
type TasksConfig struct {
	Backend        string        `mapstructure:"backend"`
	Retention      time.Duration `mapstructure:"retention"`
	PruneSchedule  string        `mapstructure:"prune_schedule"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

// TelemetryConfig describes the tracer resource.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("JOBDISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("worker.task_timeout", "30m")

	v.SetDefault("credentials.daily_limit", 100)
	v.SetDefault("credentials.cooldown", "30m")
	v.SetDefault("credentials.lease", "30m")
	v.SetDefault("credentials.reset_schedule", "0 0 * * *")

	v.SetDefault("scraper.base_url", "https://www.linkedin.com")
	v.SetDefault("scraper.primary_enabled", true)
	v.SetDefault("scraper.fallback_enabled", true)
	v.SetDefault("scraper.user_agents", []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	})
	v.SetDefault("scraper.navigation_timeout", "30s")
	v.SetDefault("scraper.max_parallel", 2)
	v.SetDefault("scraper.fetch_details", false)
	v.SetDefault("scraper.rps", 0.5)
	v.SetDefault("scraper.burst", 1)
	v.SetDefault("scraper.min_delay", "1s")
	v.SetDefault("scraper.max_delay", "3s")
	v.SetDefault("scraper.cookie_domain", ".linkedin.com")

	v.SetDefault("matcher.concurrency", 5)
	v.SetDefault("matcher.ai_timeout", "30s")
	v.SetDefault("matcher.cache_ttl", "168h")
	v.SetDefault("matcher.local_cache_size", 1024)
	v.SetDefault("matcher.local_cache_ttl", "1h")
	v.SetDefault("matcher.rps", 5.0)
	v.SetDefault("matcher.burst", 5)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.http_timeout", "60s")

	v.SetDefault("redis.url", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.tables.jobs", "jobs")
	v.SetDefault("database.tables.matches", "job_matches")
	v.SetDefault("database.tables.credentials", "credentials")
	v.SetDefault("database.tables.profiles", "profiles")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "snapshots")
	v.SetDefault("storage.local.base_dir", "data/snapshots")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("tasks.backend", "memory")
	v.SetDefault("tasks.retention", "24h")
	v.SetDefault("tasks.prune_schedule", "@every 10m")
	v.SetDefault("tasks.enqueue_timeout", "5s")

	v.SetDefault("telemetry.service_name", "jobdiscovery")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.QueueDepth <= 0 {
		return fmt.Errorf("worker.queue_depth must be > 0")
	}
	if c.Worker.TaskTimeout <= 0 {
		return fmt.Errorf("worker.task_timeout must be > 0")
	}
	if c.Credentials.DailyLimit <= 0 {
		return fmt.Errorf("credentials.daily_limit must be > 0")
	}
	if c.Credentials.Cooldown <= 0 {
		return fmt.Errorf("credentials.cooldown must be > 0")
	}
	if !c.Scraper.PrimaryEnabled && !c.Scraper.FallbackEnabled {
		return fmt.Errorf("scraper: at least one of primary_enabled or fallback_enabled must be true")
	}
	if c.Scraper.PrimaryEnabled && c.Scraper.MaxParallel <= 0 {
		return fmt.Errorf("scraper.max_parallel must be > 0 when the primary engine is enabled")
	}
	if c.Scraper.MinDelay > c.Scraper.MaxDelay {
		return fmt.Errorf("scraper.min_delay must not exceed scraper.max_delay")
	}
	if c.Matcher.Concurrency <= 0 {
		return fmt.Errorf("matcher.concurrency must be > 0")
	}
	if c.Matcher.AITimeout <= 0 {
		return fmt.Errorf("matcher.ai_timeout must be > 0")
	}
	if c.Matcher.LocalCacheSize <= 0 {
		return fmt.Errorf("matcher.local_cache_size must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	switch c.Tasks.Backend {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis task backend")
		}
	default:
		return fmt.Errorf("tasks.backend %q is not one of memory, redis", c.Tasks.Backend)
	}
	if c.Tasks.Retention <= 0 {
		return fmt.Errorf("tasks.retention must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"credentials.reset_schedule": c.Credentials.ResetSchedule,
		"tasks.prune_schedule":       c.Tasks.PruneSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// AIEnabled reports whether an LLM key is configured.
func (c Config) AIEnabled() bool {
	return c.LLM.APIKey != ""
}
