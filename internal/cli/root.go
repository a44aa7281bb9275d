// Package cli implements the acctmigrate and acctmigrateadm commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "acctmigrate",
	Short: "Copy identity-platform account configuration between instances",
	Long: `acctmigrate copies an account's configuration from a source instance to a
destination instance: tenants, permissions, roles, users, groups,
applications and account settings. Each step is enabled by its own flag
(MIGRATE_* in the environment or --step) and is safe to re-run; records
already present in the destination are matched by natural key and skipped.

Configuration is read from the environment, .env.local, .env and
~/.config/acctmigrate/config.yaml, in that order of precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	addCommonFlags(rootCmd)
}

// addCommonFlags registers the persistent flags shared by both binaries.
func addCommonFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("journal", "", "Path to run journal (overrides JOURNAL_PATH; \"off\" disables)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	cmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file (overrides LOG_FILE)")
	cmd.PersistentFlags().String("data-dir", "", "Directory holding the CSV inputs (overrides DATA_DIR)")
	cmd.PersistentFlags().String("policy", "", "Conflict policy override file (overrides POLICY_PATH)")
}
