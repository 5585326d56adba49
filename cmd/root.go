// Package cmd defines the CLI commands for the jobdiscovery executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/config"
	"github.com/JakeFAU/jobdiscovery/internal/server"
)

// cli carries state shared by every subcommand. openStores is swapped in tests.
type cli struct {
	cfgFile    string
	cfg        config.Config
	logger     *zap.Logger
	openStores func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*server.Stores, error)
}

func newCLI() *cli {
	return &cli{openStores: server.OpenStores}
}

// newRootCmd creates and configures the root command.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobdiscovery",
		Short: "Discovers job postings and scores them against candidate profiles.",
		Long: `jobdiscovery runs search tasks against the job board with a rotating pool of
scraping credentials, stores new postings, and scores every posting against a
candidate profile with an AI model, falling back to a keyword heuristic.`,
		SilenceUsage: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c.cfg = cfg
			if c.logger == nil {
				logger, err := server.NewLogger(&c.cfg)
				if err != nil {
					return err
				}
				c.logger = logger
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (YAML); env vars use the JOBDISCOVERY_ prefix")

	cmd.AddCommand(newServeCmd(c))
	cmd.AddCommand(newCredentialsCmd(c))
	cmd.AddCommand(newProfilesCmd(c))
	return cmd
}

// withStores opens the persistent stores for the duration of fn.
func (c *cli) withStores(ctx context.Context, fn func(*server.Stores) error) error {
	stores, err := c.openStores(ctx, c.cfg.Database, c.logger)
	if err != nil {
		return err
	}
	defer stores.Close()
	if stores.Postgres == nil {
		c.logger.Warn("changes are held in memory and discarded on exit; set database.dsn to persist them")
	}
	return fn(stores)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(newCLI()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
