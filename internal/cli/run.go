package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/orchestrator"
	"github.com/lherron/acctmigrate/internal/render"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Migrate the enabled entity types",
	Long: `Run authenticates against both instances and runs every enabled step in
its fixed order: tenants, categories, permissions, roles, users, bulk
invite, role assignment, groups, applications, security rules, email
templates, email sender, prehooks, allowed origins and JWT settings.

Exit status is 0 when every step succeeded, 5 when some records or steps
failed, and 1 on configuration, authentication or journal errors.`,
	RunE: appctx.WithApp(appctx.Options{NeedsJournal: true, AutoMigrate: true}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
		return runMigration(app, cmd, domain.RunModeRun)
	}),
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what run would change without writing",
	Long: `Plan fetches and reconciles every enabled step and prints, per step, how
many records would be created, updated or skipped, with a unified diff of
each conflicting record. Nothing is written to the destination.`,
	RunE: appctx.WithApp(appctx.Options{NeedsJournal: true, AutoMigrate: true}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
		return runMigration(app, cmd, domain.RunModePlan)
	}),
}

var (
	runJSON   bool
	runFormat string
	runSteps  []string
)

func init() {
	for _, cmd := range []*cobra.Command{runCmd, planCmd} {
		rootCmd.AddCommand(cmd)
		cmd.Flags().BoolVar(&runJSON, "json", false, "Print the summary as JSON (narrative goes to stderr)")
		cmd.Flags().StringVarP(&runFormat, "output", "o", "", "Summary format: table, json, yaml, tsv")
		cmd.Flags().StringSliceVar(&runSteps, "step", nil, "Enable a step by name in addition to MIGRATE_* (repeatable)")
		cmd.Flags().Bool("strict-keys", false, "Fail a step when the destination has duplicate natural keys")
	}
}

type runOutput struct {
	Run      string        `json:"run,omitempty" yaml:"run,omitempty"`
	Mode     string        `json:"mode" yaml:"mode"`
	State    string        `json:"state" yaml:"state"`
	ExitCode int           `json:"exit_code" yaml:"exit_code"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Steps    []domain.Step `json:"steps" yaml:"steps"`
}

func runMigration(app *appctx.App, cmd *cobra.Command, mode domain.RunMode) error {
	format := render.Format(runFormat)
	if runJSON {
		format = render.FormatJSON
	}
	format, err := render.ParseFormat(string(format))
	if err != nil {
		return exitError(1, err)
	}
	machine := format != render.FormatTable

	cfg := app.Config
	if err := enableSteps(cfg, runSteps); err != nil {
		return exitError(1, err)
	}
	if err := cfg.Validate(); err != nil {
		return exitError(1, err)
	}

	env, err := newEnv(app, outputWriter(cmd, machine))
	if err != nil {
		return exitError(1, err)
	}
	if mode == domain.RunModePlan {
		env.DryRun = true
		env.Diff = outputWriter(cmd, machine)
	}

	rec, err := beginRecording(app, mode)
	if err != nil {
		return exitError(1, err)
	}

	o := orchestrator.New(env, orchestrator.Options{
		Enabled: func(step string) bool { return cfg.Steps[step] },
		OnStep:  rec.step,
	})
	report := o.Run(cmd.Context())
	journalErr := rec.finish(report)

	out := runOutput{
		Run:      rec.RunID(),
		Mode:     string(mode),
		State:    string(report.State),
		ExitCode: report.ExitCode(),
		Steps:    report.Steps(),
	}
	if report.Err != nil {
		out.Error = report.Err.Error()
	}

	r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
	switch format {
	case render.FormatJSON, render.FormatYAML:
		err = r.Render(out, nil, nil)
	case render.FormatTSV:
		err = report.Render(r)
	default:
		env.Reporter.Section("Run Summary")
		if out.Run != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s)\n\n", out.Run, mode)
		}
		err = report.Render(r)
	}
	if err != nil {
		return exitError(1, err)
	}

	switch {
	case report.Err != nil:
		return exitError(orchestrator.ExitFatal, report.Err)
	case journalErr != nil:
		return exitError(orchestrator.ExitFatal, journalErr)
	case out.ExitCode != orchestrator.ExitOK:
		return exitError(out.ExitCode, nil)
	}
	return nil
}
