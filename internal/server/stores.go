package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/config"
	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/storage/memory"
	"github.com/JakeFAU/jobdiscovery/internal/storage/postgres"
)

// Stores groups the persistent stores shared by the service and the CLI.
type Stores struct {
	Jobs        discovery.JobRepository
	Matches     discovery.MatchStore
	Credentials discovery.CredentialStore
	Profiles    discovery.ProfileStore
	// Postgres is nil when the in-memory stores are in use.
	Postgres *postgres.Store
}

// OpenStores connects to Postgres when a DSN is configured and falls back to
// in-memory stores otherwise.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Stores, error) {
	if cfg.DSN == "" {
		logger.Warn("no database dsn configured, using in-memory stores")
		jobs := memory.NewJobStore()
		return &Stores{
			Jobs:        jobs,
			Matches:     jobs,
			Credentials: memory.NewCredentialStore(),
			Profiles:    memory.NewProfileStore(),
		}, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		Tables: postgres.Tables{
			Jobs:        cfg.Tables.Jobs,
			Matches:     cfg.Tables.Matches,
			Credentials: cfg.Tables.Credentials,
			Profiles:    cfg.Tables.Profiles,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	logger.Info("postgres stores initialized",
		zap.String("jobs_table", cfg.Tables.Jobs),
		zap.String("matches_table", cfg.Tables.Matches),
	)
	return &Stores{
		Jobs:        pg,
		Matches:     pg,
		Credentials: pg,
		Profiles:    pg,
		Postgres:    pg,
	}, nil
}

// Close releases database resources.
func (s *Stores) Close() {
	if s.Postgres != nil {
		s.Postgres.Close()
	}
}
