package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobdiscovery/internal/clock/system"
	"github.com/JakeFAU/jobdiscovery/internal/credentials"
	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/id/uuid"
	"github.com/JakeFAU/jobdiscovery/internal/server"
)

func newCredentialsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage scraping credentials",
	}
	cmd.AddCommand(newCredentialsAddCmd(c))
	cmd.AddCommand(newCredentialsListCmd(c))
	cmd.AddCommand(newCredentialsDeactivateCmd(c))
	cmd.AddCommand(newCredentialsResetCmd(c))
	return cmd
}

func (c *cli) pool(stores *server.Stores) *credentials.Pool {
	return credentials.NewPool(stores.Credentials, system.New(), uuid.New(), credentials.Config{
		DailyLimit: c.cfg.Credentials.DailyLimit,
		Cooldown:   c.cfg.Credentials.Cooldown,
		Lease:      c.cfg.Credentials.Lease,
	}, c.logger.Named("credentials"))
}

func newCredentialsAddCmd(c *cli) *cobra.Command {
	var (
		email       string
		premium     bool
		cookiesFile string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an active credential",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var cookies []discovery.Cookie
			if cookiesFile != "" {
				raw, err := os.ReadFile(cookiesFile)
				if err != nil {
					return fmt.Errorf("read cookies file: %w", err)
				}
				if err := json.Unmarshal(raw, &cookies); err != nil {
					return fmt.Errorf("parse cookies file: %w", err)
				}
			}
			return c.withStores(cmd.Context(), func(stores *server.Stores) error {
				cred, err := c.pool(stores).Add(cmd.Context(), email, premium, cookies)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added credential %s (%s)\n", cred.ID, credentials.MaskEmail(cred.Email))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().BoolVar(&premium, "premium", false, "prefer this credential during selection")
	cmd.Flags().StringVar(&cookiesFile, "cookies", "", "JSON file with session cookies")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newCredentialsListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List credentials with masked emails",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStores(cmd.Context(), func(stores *server.Stores) error {
				creds, err := c.pool(stores).List(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(creds); err != nil {
					return fmt.Errorf("encode credentials: %w", err)
				}
				return nil
			})
		},
	}
}

func newCredentialsDeactivateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <id>",
		Short: "Remove a credential from rotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStores(cmd.Context(), func(stores *server.Stores) error {
				if err := c.pool(stores).Deactivate(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deactivated credential %s\n", args[0])
				return nil
			})
		},
	}
}

func newCredentialsResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Zero every daily request counter now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withStores(cmd.Context(), func(stores *server.Stores) error {
				if err := c.pool(stores).ResetDailyCounts(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "daily counters reset")
				return nil
			})
		},
	}
}
