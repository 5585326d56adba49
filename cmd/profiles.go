package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	"github.com/JakeFAU/jobdiscovery/internal/server"
)

func newProfilesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage candidate profiles",
	}
	cmd.AddCommand(newProfilesPutCmd(c))
	cmd.AddCommand(newProfilesGetCmd(c))
	return cmd
}

func newProfilesPutCmd(c *cli) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create or replace a profile from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read profile file: %w", err)
			}
			var profile discovery.Profile
			if err := json.Unmarshal(raw, &profile); err != nil {
				return fmt.Errorf("parse profile file: %w", err)
			}
			return c.withStores(cmd.Context(), func(stores *server.Stores) error {
				if err := stores.Profiles.PutProfile(cmd.Context(), profile); err != nil {
					return fmt.Errorf("store profile: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored profile %s\n", profile.Ref)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "profile JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProfilesGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <profile_ref>",
		Short: "Print a stored profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withStores(cmd.Context(), func(stores *server.Stores) error {
				profile, err := stores.Profiles.GetProfile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(profile); err != nil {
					return fmt.Errorf("encode profile: %w", err)
				}
				return nil
			})
		},
	}
}
