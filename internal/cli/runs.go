package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/render"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List journaled runs",
	Long:  `Lists previous runs recorded in the journal, newest first.`,
	RunE:  appctx.WithApp(appctx.Options{NeedsJournal: true}, listRuns),
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the steps and failed records of a run",
	Long:  `Shows a run by friendly ID (R-00001) or UUID, with its step summaries and every record that failed.`,
	Args:  cobra.ExactArgs(1),
	RunE:  appctx.WithApp(appctx.Options{NeedsJournal: true}, showRun),
}

var (
	runsLimit  int
	runsFormat string
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.PersistentFlags().StringVarP(&runsFormat, "output", "o", "", "Output format: table, json, yaml, tsv")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list (0 for all)")
}

func exitLabel(code *int) string {
	if code == nil {
		return "-"
	}
	return strconv.Itoa(*code)
}

func listRuns(app *appctx.App, cmd *cobra.Command, args []string) error {
	if app.Store == nil {
		return appctx.ErrNoJournal
	}
	format, err := render.ParseFormat(runsFormat)
	if err != nil {
		return err
	}

	runs, err := app.Store.Runs.List(runsLimit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []domain.Run{}
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{r.ID, string(r.Mode), string(r.State), exitLabel(r.ExitCode), r.StartedAt, r.DestinationURL})
	}

	if len(runs) == 0 && format == render.FormatTable {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
	return r.Render(runs, []string{"ID", "MODE", "STATE", "EXIT", "STARTED", "DESTINATION"}, rows)
}

type runDetail struct {
	domain.Run `yaml:",inline"`
	Failures    []domain.Failure `json:"failures" yaml:"failures"`
}

func showRun(app *appctx.App, cmd *cobra.Command, args []string) error {
	if app.Store == nil {
		return appctx.ErrNoJournal
	}
	format, err := render.ParseFormat(runsFormat)
	if err != nil {
		return err
	}

	run, err := app.Store.Runs.Get(args[0])
	if err != nil {
		return err
	}
	failures, err := app.Store.Runs.Failures(run.UUID)
	if err != nil {
		return err
	}

	r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
	if format == render.FormatJSON || format == render.FormatYAML {
		return r.Render(runDetail{Run: *run, Failures: failures}, nil, nil)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run %s (%s)\n", run.ID, run.UUID)
	fmt.Fprintf(w, "  mode:        %s\n", run.Mode)
	fmt.Fprintf(w, "  state:       %s\n", run.State)
	fmt.Fprintf(w, "  exit:        %s\n", exitLabel(run.ExitCode))
	fmt.Fprintf(w, "  started:     %s\n", run.StartedAt)
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "  finished:    %s\n", *run.FinishedAt)
	}
	fmt.Fprintf(w, "  destination: %s\n\n", run.DestinationURL)

	rows := make([][]string, 0, len(run.Steps))
	for _, s := range run.Steps {
		rows = append(rows, []string{
			strconv.Itoa(s.Position), s.Name, string(s.Status),
			strconv.Itoa(s.Created), strconv.Itoa(s.Updated), strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Deleted), strconv.Itoa(s.Failed), s.Error,
		})
	}
	if err := r.RenderTable([]string{"#", "STEP", "STATUS", "CREATED", "UPDATED", "SKIPPED", "DELETED", "FAILED", "ERROR"}, rows); err != nil {
		return err
	}

	if len(failures) > 0 {
		fmt.Fprintf(w, "\nFailed records (%d):\n", len(failures))
		for _, f := range failures {
			status := ""
			if f.Status != 0 {
				status = fmt.Sprintf(" [%d]", f.Status)
			}
			fmt.Fprintf(w, "  %s: %s%s: %s\n", f.Step, f.Item, status, f.Message)
		}
	}
	return nil
}
