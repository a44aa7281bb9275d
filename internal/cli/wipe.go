package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/config"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/migrate"
	"github.com/lherron/acctmigrate/internal/orchestrator"
	"github.com/lherron/acctmigrate/internal/render"
)

var wipeAdmCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete selected resources from the destination instance",
	Long: `Wipe deletes every record of the selected resource types from the
destination instance. Select types with flags or DELETE_TENANTS,
DELETE_USERS, DELETE_PERMISSIONS, DELETE_ROLES, DELETE_APPLICATIONS and
DELETE_PREHOOKS. The source instance is never touched.

Without --yes, wipe only lists what would be deleted.`,
	RunE: appctx.WithApp(appctx.Options{NeedsJournal: true, AutoMigrate: true}, runWipe),
}

var (
	wipeYes    bool
	wipeFormat string
)

var wipeFlags = []struct {
	name  string
	usage string
	dst   func(*config.Wipe) *bool
}{
	{"tenants", "Delete all tenants", func(w *config.Wipe) *bool { return &w.Tenants }},
	{"users", "Delete all users", func(w *config.Wipe) *bool { return &w.Users }},
	{"permissions", "Delete all permissions", func(w *config.Wipe) *bool { return &w.Permissions }},
	{"roles", "Delete all roles", func(w *config.Wipe) *bool { return &w.Roles }},
	{"applications", "Delete all applications (one placeholder remains)", func(w *config.Wipe) *bool { return &w.Applications }},
	{"prehooks", "Delete all prehooks", func(w *config.Wipe) *bool { return &w.Prehooks }},
}

func init() {
	rootAdmCmd.AddCommand(wipeAdmCmd)
	wipeAdmCmd.Flags().BoolVar(&wipeYes, "yes", false, "Actually delete; without it wipe only previews")
	wipeAdmCmd.Flags().StringVarP(&wipeFormat, "output", "o", "", "Summary format: table, json, yaml, tsv")
	for _, f := range wipeFlags {
		wipeAdmCmd.Flags().Bool(f.name, false, f.usage+" (overrides DELETE_*)")
	}
}

func runWipe(app *appctx.App, cmd *cobra.Command, args []string) error {
	format, err := render.ParseFormat(wipeFormat)
	if err != nil {
		return exitError(1, err)
	}
	machine := format != render.FormatTable

	cfg := app.Config
	for _, f := range wipeFlags {
		if fl := cmd.Flags().Lookup(f.name); fl != nil && fl.Changed {
			*f.dst(&cfg.Wipe) = fl.Value.String() == "true"
		}
	}
	if err := cfg.ValidateDestination(); err != nil {
		return exitError(1, err)
	}

	env, err := newEnv(app, outputWriter(cmd, machine))
	if err != nil {
		return exitError(1, err)
	}
	env.DryRun = !wipeYes

	var rec *recorder
	if wipeYes {
		if rec, err = beginRecording(app, domain.RunModeWipe); err != nil {
			return exitError(1, err)
		}
	} else {
		env.Reporter.Warning("Preview only: nothing is deleted without --yes")
	}

	o := orchestrator.New(env, orchestrator.Options{OnStep: rec.step})
	report := o.Wipe(cmd.Context(), migrate.WipeOptions{
		Tenants:      cfg.Wipe.Tenants,
		Users:        cfg.Wipe.Users,
		Permissions:  cfg.Wipe.Permissions,
		Roles:        cfg.Wipe.Roles,
		Applications: cfg.Wipe.Applications,
		Prehooks:     cfg.Wipe.Prehooks,
	})
	journalErr := rec.finish(report)

	r := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: format})
	switch format {
	case render.FormatJSON, render.FormatYAML:
		out := runOutput{
			Run:      rec.RunID(),
			Mode:     string(domain.RunModeWipe),
			State:    string(report.State),
			ExitCode: report.ExitCode(),
			Steps:    report.Steps(),
		}
		if report.Err != nil {
			out.Error = report.Err.Error()
		}
		err = r.Render(out, nil, nil)
	case render.FormatTSV:
		err = report.Render(r)
	default:
		if len(report.Summaries) > 0 {
			env.Reporter.Section("Wipe Summary")
			if id := rec.RunID(); id != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s (%s)\n\n", id, domain.RunModeWipe)
			}
			err = report.Render(r)
		}
	}
	if err != nil {
		return exitError(1, err)
	}

	switch {
	case report.Err != nil:
		return exitError(orchestrator.ExitFatal, report.Err)
	case journalErr != nil:
		return exitError(orchestrator.ExitFatal, journalErr)
	case report.ExitCode() != orchestrator.ExitOK:
		return exitError(report.ExitCode(), nil)
	}
	return nil
}
