package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aslmdev/Crevion-Helper-Bot/crevion"
	"github.com/aslmdev/Crevion-Helper-Bot/permissions"
)

// cliActor is recorded as the actor for owner removals made from the CLI
const cliActor = "cli"

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect or edit the stored permission config without running the bot",
}

var permissionsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the permission config as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPermissions(
			cmd, func(ctx context.Context, svc *permissions.Service) error {
				snapshot, err := svc.Snapshot(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snapshot)
			},
		)
	},
}

var permissionsAddOwnerCmd = &cobra.Command{
	Use:   "add-owner <user-id>",
	Short: "Add a bot owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPermissions(
			cmd, func(ctx context.Context, svc *permissions.Service) error {
				res, err := svc.AddOwner(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "add owner %s: %s\n", args[0], res)
				return nil
			},
		)
	},
}

var permissionsRemoveOwnerCmd = &cobra.Command{
	Use:   "remove-owner <user-id>",
	Short: "Remove a bot owner. The last owner can't be removed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withPermissions(
			cmd, func(ctx context.Context, svc *permissions.Service) error {
				res, err := svc.RemoveOwner(ctx, cliActor, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "remove owner %s: %s\n", args[0], res)
				return nil
			},
		)
	},
}

var permissionsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore role levels, overrides and line roles to the configured defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPermissions(
			cmd, func(ctx context.Context, svc *permissions.Service) error {
				if err := svc.ResetToDefaults(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "permissions reset to defaults")
				return nil
			},
		)
	},
}

// withPermissions opens the configured database and calls fn with a
// permission service over it.
func withPermissions(
	cmd *cobra.Command,
	fn func(ctx context.Context, svc *permissions.Service) error,
) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := crevion.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}
	defer func() {
		if sqlDB, e := db.DB(); e == nil {
			_ = sqlDB.Close()
		}
	}()

	svc, err := crevion.OpenPermissions(ctx, db, cfg.Permissions)
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

//nolint:gochecknoinits
func init() {
	permissionsCmd.AddCommand(
		permissionsShowCmd,
		permissionsAddOwnerCmd,
		permissionsRemoveOwnerCmd,
		permissionsResetCmd,
	)
	rootCmd.AddCommand(permissionsCmd)
}
