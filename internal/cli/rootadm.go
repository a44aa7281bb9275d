package cli

import (
	"context"

	"github.com/spf13/cobra"
)

var rootAdmCmd = &cobra.Command{
	Use:   "acctmigrateadm",
	Short: "Administrative CLI for the destination instance and the run journal",
	Long: `acctmigrateadm is the administrative companion to acctmigrate. It wipes
selected resources from the destination instance, maintains the run journal
and checks the local setup. Wiping is destructive and asks for --yes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExecuteAdmin runs the admin root command
func ExecuteAdmin(ctx context.Context) error {
	return rootAdmCmd.ExecuteContext(ctx)
}

func init() {
	addCommonFlags(rootAdmCmd)
}
