package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/db"
)

var migrateAdmCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run any pending journal migrations",
	Long: `Migrate applies any pending SQL migrations to the run journal.

Migrations are embedded in the binary and tracked via the schema_migrations
table. Each migration file (e.g., 000001_journal.sql) is applied exactly once.

This command is safe to run multiple times. 'acctmigrate run' and 'plan'
apply pending migrations on their own; 'runs' does not.

Use --dry-run to see which migrations would be applied without running them.
Use --status to show the current migration status.`,
	RunE: appctx.WithApp(appctx.Options{}, runMigrateAdm),
}

var (
	migrateDryRun bool
	migrateStatus bool
)

func init() {
	rootAdmCmd.AddCommand(migrateAdmCmd)

	migrateAdmCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "Show which migrations would be applied without running them")
	migrateAdmCmd.Flags().BoolVar(&migrateStatus, "status", false, "Show current migration status")
}

func runMigrateAdm(app *appctx.App, cmd *cobra.Command, args []string) error {
	if !app.Config.JournalEnabled() {
		return exitError(1, appctx.ErrNoJournal)
	}

	database, err := db.Open(app.Config.JournalPath)
	if err != nil {
		return exitError(1, fmt.Errorf("failed to open journal: %w", err))
	}
	defer database.Close()

	w := cmd.OutOrStdout()
	if migrateStatus {
		return showMigrationStatus(w, database)
	}
	if migrateDryRun {
		return showPendingMigrations(w, database)
	}

	applied, err := database.MigrateWithInfo()
	if err != nil {
		return exitError(1, fmt.Errorf("failed to run migrations: %w", err))
	}

	if len(applied) == 0 {
		fmt.Fprintln(w, "Journal is up to date. No migrations to apply.")
		return nil
	}
	for _, m := range applied {
		fmt.Fprintf(w, "✓ Applied migration: %s\n", m)
	}
	fmt.Fprintf(w, "\nApplied %d migration(s).\n", len(applied))
	app.Log.Info("journal migrated", "path", database.Path(), "applied", len(applied))
	return nil
}

func showMigrationStatus(w io.Writer, database *db.DB) error {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(1, fmt.Errorf("failed to get migration status: %w", err))
	}

	if len(applied) == 0 && len(pending) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	if len(applied) > 0 {
		fmt.Fprintln(w, "Applied migrations:")
		for _, m := range applied {
			fmt.Fprintf(w, "  ✓ %s\n", m)
		}
	}
	if len(pending) > 0 {
		if len(applied) > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, "Pending migrations:")
		for _, m := range pending {
			fmt.Fprintf(w, "  ○ %s\n", m)
		}
	}
	return nil
}

func showPendingMigrations(w io.Writer, database *db.DB) error {
	_, pending, err := database.MigrationStatus()
	if err != nil {
		return exitError(1, fmt.Errorf("failed to get migration status: %w", err))
	}

	if len(pending) == 0 {
		fmt.Fprintln(w, "No pending migrations. Journal is up to date.")
		return nil
	}

	fmt.Fprintln(w, "Pending migrations (would be applied):")
	for _, m := range pending {
		fmt.Fprintf(w, "  ○ %s\n", m)
	}
	fmt.Fprintf(w, "\nTotal: %d migration(s) would be applied.\n", len(pending))
	return nil
}
