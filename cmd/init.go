package cmd

import (
	"bufio"
	"fmt"
	"log"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aslmdev/Crevion-Helper-Bot/crevion"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var (
	customPasswordReader passwordReader
	initOwners           []string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database, set admin credentials and seed bot owners",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("CREVION_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"CREVION_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		db, err := crevion.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		settings, err := crevion.LoadBotSettings(ctx, db)
		if err != nil {
			log.Fatalf("Error loading bot settings: %v", err)
		}

		out := cmd.OutOrStdout()
		if settings.AdminUsername == "" || settings.AdminPassword == "" {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")

			reader := bufio.NewReader(cmd.InOrStdin())

			fmt.Fprint(out, "Enter admin username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)

			if customPasswordReader == nil {
				customPasswordReader = func() ([]byte, error) {
					return term.ReadPassword(int(syscall.Stdin))
				}
			}

			var password string
			for {
				fmt.Fprint(out, "Enter admin password: ")
				passwordBytes, err := customPasswordReader()
				if err != nil {
					log.Fatalf("Error reading password: %v", err)
				}
				password = string(passwordBytes)
				fmt.Fprintln(out)

				fmt.Fprint(out, "Confirm admin password: ")
				confirmBytes, err := customPasswordReader()
				if err != nil {
					log.Fatalf("Error reading password: %v", err)
				}
				fmt.Fprintln(out)

				if password == string(confirmBytes) {
					break
				}
				fmt.Fprintln(out, "Passwords do not match. Please try again.")
			}

			_, err = crevion.SetAdminCredentials(
				ctx,
				crevion.NewDatabase(db, nil, cfg.DatabaseType == "postgres"),
				username,
				password,
			)
			if err != nil {
				log.Fatalf("Error setting admin credentials: %v", err)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		} else {
			fmt.Fprintln(out, "Admin credentials are already set.")
		}

		perms, err := crevion.OpenPermissions(ctx, db, cfg.Permissions)
		if err != nil {
			log.Fatalf("Error initializing permissions: %v", err)
		}
		for _, id := range initOwners {
			if _, err = perms.AddOwner(ctx, strings.TrimSpace(id)); err != nil {
				log.Fatalf("Error adding owner %q: %v", id, err)
			}
		}
		snapshot, err := perms.Snapshot(ctx)
		if err != nil {
			log.Fatalf("Error loading permissions: %v", err)
		}
		if len(snapshot.Owners) == 0 {
			fmt.Fprintln(
				out,
				"No bot owners are set. Set CREVION_PERMISSIONS_OWNERS or pass --owner.",
			)
		} else {
			fmt.Fprintf(out, "Bot owners: %s\n", strings.Join(snapshot.Owners, ", "))
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
	},
}

//nolint:gochecknoinits
func init() {
	initCmd.Flags().StringSliceVar(
		&initOwners,
		"owner",
		nil,
		"Discord user ID to add as a bot owner (repeatable)",
	)
	rootCmd.AddCommand(initCmd)
}
