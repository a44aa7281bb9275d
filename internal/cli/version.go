package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/migrate"
	"github.com/lherron/acctmigrate/internal/render"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionJSON bool

func init() {
	rootCmd.AddCommand(newVersionCmd("acctmigrate", &versionJSON))
	rootAdmCmd.AddCommand(newVersionCmd("acctmigrateadm", &versionAdmJSON))
}

var versionAdmJSON bool

func newVersionCmd(binary string, asJSON *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Displays version, commit, and build date information for ` + binary + `.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if *asJSON {
				steps := make([]string, 0, len(migrate.Steps()))
				for _, s := range migrate.Steps() {
					steps = append(steps, s.Name)
				}
				return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: render.FormatJSON}).RenderJSON(map[string]any{
					"binary":     binary,
					"version":    Version,
					"commit":     GitCommit,
					"build_date": BuildDate,
					"steps":      steps,
				})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", binary, Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
			return nil
		},
	}
	cmd.Flags().BoolVar(asJSON, "json", false, "Output as JSON")
	return cmd
}
