package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/config"
	"github.com/lherron/acctmigrate/internal/db"
	"github.com/lherron/acctmigrate/internal/policy"
	"github.com/lherron/acctmigrate/internal/ratelimit"
	"github.com/lherron/acctmigrate/internal/render"
)

var doctorAdmCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, run journal and instance access",
	Long: `Doctor checks the configuration, the conflict policy and the run journal.
With --ping it also authenticates against both instances. With --fix it
repairs friendly-ID sequence drift in the journal.`,
	RunE: appctx.WithApp(appctx.Options{}, runDoctorAdm),
}

var (
	doctorAdmJSON    bool
	doctorAdmFix     bool
	doctorAdmPing    bool
	doctorAdmVerbose bool
)

const (
	checkOK      = "ok"
	checkWarning = "warning"
	checkError   = "error"
)

type checkResult struct {
	Name    string   `json:"name"`
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Details []string `json:"details,omitempty"`
}

type doctorReport struct {
	Version       string        `json:"version"`
	JournalPath   string        `json:"journal_path"`
	Checks        []checkResult `json:"checks"`
	Fixes         []string      `json:"fixes,omitempty"`
	Warnings      int           `json:"warnings"`
	Errors        int           `json:"errors"`
	OverallStatus string        `json:"overall_status"`
}

func init() {
	rootAdmCmd.AddCommand(doctorAdmCmd)
	doctorAdmCmd.Flags().BoolVar(&doctorAdmJSON, "json", false, "Output JSON")
	doctorAdmCmd.Flags().BoolVar(&doctorAdmFix, "fix", false, "Repair journal sequence drift")
	doctorAdmCmd.Flags().BoolVar(&doctorAdmPing, "ping", false, "Authenticate against both instances")
	doctorAdmCmd.Flags().BoolVar(&doctorAdmVerbose, "verbose", false, "Verbose output")
}

func runDoctorAdm(app *appctx.App, cmd *cobra.Command, args []string) error {
	cfg := app.Config
	report := &doctorReport{
		Version:     Version,
		JournalPath: cfg.JournalPath,
		Checks:      []checkResult{},
	}

	report.Checks = append(report.Checks, checkConfig(cfg)...)
	report.Checks = append(report.Checks, checkPolicy(cfg.PolicyPath))

	if cfg.JournalEnabled() {
		journalChecks, database := checkJournalFile(cfg.JournalPath)
		report.Checks = append(report.Checks, journalChecks...)
		if database != nil {
			defer database.Close()
			report.Checks = append(report.Checks, checkPragmas(database)...)
			report.Checks = append(report.Checks, checkMigrations(database)...)
			report.Checks = append(report.Checks, checkSequenceDrift(database)...)
			report.Checks = append(report.Checks, checkUnfinishedRuns(database)...)
			if doctorAdmFix {
				report.Fixes = applyFixes(database)
			}
		}
	} else {
		report.Checks = append(report.Checks, checkResult{
			Name: "journal_file", Status: checkWarning, Message: "Run journal disabled (JOURNAL_PATH=off)",
		})
	}

	if doctorAdmPing {
		report.Checks = append(report.Checks, pingInstances(cmd.Context(), app)...)
	}

	tally(report)

	if doctorAdmJSON {
		if err := render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: render.FormatJSON}).RenderJSON(report); err != nil {
			return err
		}
	} else {
		printDoctorReport(cmd, report)
	}

	if report.Errors > 0 {
		return exitError(1, nil)
	}
	return nil
}

func tally(report *doctorReport) {
	report.OverallStatus = checkOK
	for _, check := range report.Checks {
		switch check.Status {
		case checkWarning:
			report.Warnings++
		case checkError:
			report.Errors++
			report.OverallStatus = checkError
		}
	}
	if report.Warnings > 0 && report.OverallStatus == checkOK {
		report.OverallStatus = checkWarning
	}
}

func checkConfig(cfg *config.Config) []checkResult {
	var results []checkResult

	for _, inst := range []struct {
		name string
		n    string
		i    config.Instance
	}{{"source", "1", cfg.Source}, {"destination", "2", cfg.Destination}} {
		if inst.i.Complete() {
			results = append(results, checkResult{
				Name: inst.name + "_credentials", Status: checkOK,
				Message: fmt.Sprintf("%s instance: %s", inst.name, inst.i.BaseURL),
			})
			continue
		}
		results = append(results, checkResult{
			Name:    inst.name + "_credentials",
			Status:  checkWarning,
			Message: fmt.Sprintf("%s instance credentials incomplete", inst.name),
			Details: []string{fmt.Sprintf("Set BASE_URL_%s, CLIENT_ID_%s and API_KEY_%s", inst.n, inst.n, inst.n)},
		})
	}

	if err := cfg.Validate(); err != nil {
		results = append(results, checkResult{Name: "config_valid", Status: checkError, Message: err.Error()})
	} else {
		var enabled []string
		for step, on := range cfg.Steps {
			if on {
				enabled = append(enabled, step)
			}
		}
		msg := "Configuration valid; no step enabled"
		if len(enabled) > 0 {
			msg = fmt.Sprintf("Configuration valid; %d step(s) enabled", len(enabled))
		}
		results = append(results, checkResult{Name: "config_valid", Status: checkOK, Message: msg})
	}

	if cfg.DataDir != "" {
		if info, err := os.Stat(cfg.DataDir); err != nil || !info.IsDir() {
			results = append(results, checkResult{
				Name:    "data_dir",
				Status:  checkWarning,
				Message: fmt.Sprintf("Data directory not found: %s", cfg.DataDir),
				Details: []string{"The users, bulk invite, role assignment and groups steps read CSV files from it"},
			})
		} else {
			results = append(results, checkResult{Name: "data_dir", Status: checkOK, Message: "Data directory: " + cfg.DataDir})
		}
	}
	return results
}

func checkPolicy(path string) checkResult {
	if _, err := policy.Load(path); err != nil {
		return checkResult{Name: "policy", Status: checkError, Message: fmt.Sprintf("Conflict policy invalid: %v", err)}
	}
	if path == "" {
		return checkResult{Name: "policy", Status: checkOK, Message: "Built-in conflict policy"}
	}
	return checkResult{Name: "policy", Status: checkOK, Message: "Conflict policy: " + path}
}

// checkJournalFile opens the journal when its file exists. A missing file
// is not an error; the first run creates it.
func checkJournalFile(path string) ([]checkResult, *db.DB) {
	info, err := os.Stat(path)
	if err != nil {
		return []checkResult{{
			Name:    "journal_file",
			Status:  checkWarning,
			Message: fmt.Sprintf("Journal not created yet: %s", path),
			Details: []string{"It is created by the first run, or by 'acctmigrateadm migrate'"},
		}}, nil
	}

	results := []checkResult{{
		Name:    "journal_file",
		Status:  checkOK,
		Message: fmt.Sprintf("Journal: %s (%.1f KB)", path, float64(info.Size())/1024),
	}}

	database, err := db.Open(path)
	if err != nil {
		return append(results, checkResult{
			Name: "journal_open", Status: checkError, Message: fmt.Sprintf("Failed to open journal: %v", err),
		}), nil
	}
	return results, database
}

func checkPragmas(database *db.DB) []checkResult {
	var results []checkResult

	var journalMode string
	database.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
	if journalMode == "wal" {
		results = append(results, checkResult{Name: "wal_mode", Status: checkOK, Message: "WAL mode enabled"})
	} else {
		results = append(results, checkResult{
			Name:    "wal_mode",
			Status:  checkWarning,
			Message: fmt.Sprintf("WAL mode not enabled (current: %s)", journalMode),
		})
	}

	var integrity string
	database.QueryRow("PRAGMA integrity_check").Scan(&integrity)
	if integrity == "ok" {
		results = append(results, checkResult{Name: "integrity_check", Status: checkOK, Message: "Journal integrity check passed"})
	} else {
		results = append(results, checkResult{
			Name:    "integrity_check",
			Status:  checkError,
			Message: fmt.Sprintf("Journal integrity check failed: %s", integrity),
			Details: []string{"Move the file aside; a new journal is created on the next run"},
		})
	}
	return results
}

func checkMigrations(database *db.DB) []checkResult {
	applied, pending, err := database.MigrationStatus()
	if err != nil {
		return []checkResult{{Name: "schema_migrations", Status: checkError, Message: err.Error()}}
	}
	if len(pending) > 0 {
		return []checkResult{{
			Name:    "schema_migrations",
			Status:  checkWarning,
			Message: fmt.Sprintf("%d pending migration(s)", len(pending)),
			Details: append([]string{"Run 'acctmigrateadm migrate'"}, pending...),
		}}
	}
	return []checkResult{{
		Name:    "schema_migrations",
		Status:  checkOK,
		Message: fmt.Sprintf("Schema up to date (%d migration(s))", len(applied)),
	}}
}

func checkSequenceDrift(database *db.DB) []checkResult {
	var tableExists int
	database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='runs'").Scan(&tableExists)
	if tableExists == 0 {
		return nil
	}

	drifts, err := db.CheckCounters(database, db.Counters())
	if err != nil {
		return []checkResult{{Name: "sequence_drift", Status: checkError, Message: fmt.Sprintf("Sequence check failed: %v", err)}}
	}
	if len(drifts) == 0 {
		return []checkResult{{Name: "sequence_drift", Status: checkOK, Message: "Friendly-ID sequences in sync"}}
	}

	details := make([]string, 0, len(drifts))
	for _, d := range drifts {
		details = append(details, fmt.Sprintf("%s: counter=%d, highest %s id=%d", d.Counter, d.Current, d.Table, d.Highest))
	}
	return []checkResult{{
		Name:    "sequence_drift",
		Status:  checkWarning,
		Message: fmt.Sprintf("Sequence drift in %d table(s); run with --fix", len(drifts)),
		Details: details,
	}}
}

// checkUnfinishedRuns flags runs that never reached a final state, which
// happens when the process was killed mid-run.
func checkUnfinishedRuns(database *db.DB) []checkResult {
	var tableExists int
	database.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='runs'").Scan(&tableExists)
	if tableExists == 0 {
		return nil
	}

	rows, err := database.Query("SELECT id FROM runs WHERE state = 'running' ORDER BY started_at")
	if err != nil {
		return []checkResult{{Name: "unfinished_runs", Status: checkError, Message: err.Error()}}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return []checkResult{{Name: "unfinished_runs", Status: checkError, Message: err.Error()}}
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return []checkResult{{Name: "unfinished_runs", Status: checkOK, Message: "No interrupted runs"}}
	}
	return []checkResult{{
		Name:    "unfinished_runs",
		Status:  checkWarning,
		Message: fmt.Sprintf("%d run(s) never finished", len(ids)),
		Details: ids,
	}}
}

func pingInstances(ctx context.Context, app *appctx.App) []checkResult {
	cfg := app.Config
	limiter := ratelimit.New(cfg.RateLimitRPM)

	var results []checkResult
	for _, inst := range []struct {
		name string
		i    config.Instance
	}{{"source", cfg.Source}, {"destination", cfg.Destination}} {
		name := inst.name + "_auth"
		if !inst.i.Complete() {
			results = append(results, checkResult{Name: name, Status: checkWarning, Message: inst.name + " not configured; skipped"})
			continue
		}
		p := newPlatform(inst.name, inst.i, cfg, limiter, app.Log)
		if err := p.Client().Authenticate(ctx); err != nil {
			results = append(results, checkResult{Name: name, Status: checkError, Message: err.Error()})
			continue
		}
		results = append(results, checkResult{Name: name, Status: checkOK, Message: "Authenticated to " + inst.name})
	}
	return results
}

func applyFixes(database *db.DB) []string {
	drifts, err := db.RepairCounters(database, db.Counters())
	switch {
	case err != nil:
		return []string{fmt.Sprintf("Sequence repair failed: %v", err)}
	case len(drifts) > 0:
		return []string{fmt.Sprintf("Fixed sqlite_sequence drift for %d table(s)", len(drifts))}
	}
	return []string{"No sqlite_sequence drift detected"}
}

var doctorCategories = []struct {
	title string
	names []string
}{
	{"Configuration", []string{"source_credentials", "destination_credentials", "config_valid", "data_dir", "policy"}},
	{"Journal", []string{"journal_file", "journal_open", "wal_mode", "integrity_check", "schema_migrations", "sequence_drift", "unfinished_runs"}},
	{"Instances", []string{"source_auth", "destination_auth"}},
}

func printDoctorReport(cmd *cobra.Command, report *doctorReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "acctmigrateadm doctor %s\n\n", report.Version)

	for _, cat := range doctorCategories {
		var checks []checkResult
		for _, c := range report.Checks {
			for _, n := range cat.names {
				if c.Name == n {
					checks = append(checks, c)
				}
			}
		}
		if len(checks) == 0 {
			continue
		}

		fmt.Fprintf(w, "%s\n", cat.title)
		for _, check := range checks {
			icon := "✓"
			switch check.Status {
			case checkWarning:
				icon = "⚠"
			case checkError:
				icon = "✗"
			}
			fmt.Fprintf(w, "  %s %s\n", icon, check.Message)
			if doctorAdmVerbose {
				for _, detail := range check.Details {
					fmt.Fprintf(w, "      %s\n", detail)
				}
			}
		}
		fmt.Fprintln(w)
	}

	if len(report.Fixes) > 0 {
		fmt.Fprintln(w, "--fix results")
		fmt.Fprintln(w, strings.Join(report.Fixes, "\n"))
		fmt.Fprintln(w)
	}

	switch {
	case report.Errors > 0:
		fmt.Fprintf(w, "Summary: %d error(s), %d warning(s)\n", report.Errors, report.Warnings)
	case report.Warnings > 0:
		fmt.Fprintf(w, "Summary: %d warning(s)\n", report.Warnings)
	default:
		fmt.Fprintln(w, "Summary: All checks passed ✓")
	}
	if (report.Warnings > 0 || report.Errors > 0) && !doctorAdmVerbose {
		fmt.Fprintln(w, "\nRun with --verbose for detailed information")
	}
}
