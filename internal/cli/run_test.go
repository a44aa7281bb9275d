package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/acctmigrate/internal/db"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/record"
	"github.com/lherron/acctmigrate/internal/store"
)

func openJournal(t *testing.T, path string) *store.Store {
	t.Helper()
	database, err := db.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return store.New(database)
}

func TestRunMigratesAndJournals(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("MIGRATE_TENANTS", "true")
	w.src.Tenants = []record.Record{
		{"id": "x1", "tenantId": "acme", "name": "Acme"},
		{"id": "x2", "tenantId": "globex", "name": "Globex"},
	}
	w.dst.Tenants = []record.Record{{"id": "y1", "tenantId": "globex", "name": "Globex"}}

	out, _, err := execute(t, rootCmd, "run", "--json", "--journal", w.journal, "--data-dir", w.dataDir)
	require.NoError(t, err)

	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, "R-00001", got.Run)
	assert.Equal(t, "done", got.State)
	assert.Equal(t, 0, got.ExitCode)

	var tenants domain.Step
	for _, s := range got.Steps {
		if s.Name == "tenants" {
			tenants = s
		}
	}
	assert.Equal(t, domain.StepOK, tenants.Status)
	assert.Equal(t, 1, tenants.Created)
	assert.Equal(t, 1, tenants.Skipped)
	assert.Len(t, w.dst.Tenants, 2)
	assert.Zero(t, w.src.Writes())

	run, err := openJournal(t, w.journal).Runs.Get("R-00001")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateDone, run.State)
	require.NotNil(t, run.ExitCode)
	assert.Equal(t, 0, *run.ExitCode)
	assert.Len(t, run.Steps, 15, "disabled steps are journaled as skipped")
}

func TestRunAbortedStepExitsFive(t *testing.T) {
	w := newWorkspace(t)
	// no user_migration_data.csv in the data directory
	_, stderr, err := execute(t, rootCmd, "run", "--step", "users", "--json", "--journal", w.journal, "--data-dir", w.dataDir)
	require.Error(t, err)
	assert.Equal(t, 5, ExitCode(err))
	assert.Contains(t, stderr, "aborted")

	run, err := openJournal(t, w.journal).Runs.Get("R-00001")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateDone, run.State)
	for _, s := range run.Steps {
		if s.Name == "users" {
			assert.Equal(t, domain.StepAborted, s.Status)
			assert.NotEmpty(t, s.Error)
		}
	}
}

func TestRunAuthFailureExitsOne(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("MIGRATE_TENANTS", "1")
	w.dst.RejectAuth = true

	_, _, err := execute(t, rootCmd, "run", "--journal", w.journal, "--data-dir", w.dataDir)
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Zero(t, w.dst.Writes())
	assert.Zero(t, w.src.Calls("GET /tenants/resources/tenants/v2"))

	run, err := openJournal(t, w.journal).Runs.Get("R-00001")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStateAuthFailed, run.State)
}

func TestRunMissingCredentials(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("MIGRATE_TENANTS", "yes")
	t.Setenv("API_KEY_2", "")

	_, _, err := execute(t, rootCmd, "run", "--journal", w.journal)
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, err.Error(), "API_KEY_2")
	assert.Zero(t, w.src.Calls("POST /auth/vendor"))
}

func TestPlanWritesNothing(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("MIGRATE_TENANTS", "true")
	w.src.Tenants = []record.Record{{"id": "x1", "tenantId": "acme", "name": "Acme"}}

	out, _, err := execute(t, rootCmd, "plan", "--journal", w.journal, "--data-dir", w.dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Run Summary")
	assert.Zero(t, w.dst.Writes())
	assert.Empty(t, w.dst.Tenants)

	run, err := openJournal(t, w.journal).Runs.Get("R-00001")
	require.NoError(t, err)
	assert.Equal(t, domain.RunModePlan, run.Mode)
}

func TestRunWithJournalOff(t *testing.T) {
	w := newWorkspace(t)
	out, _, err := execute(t, rootCmd, "run", "-o", "yaml", "--journal", "off")
	require.NoError(t, err)
	assert.Contains(t, out, "state: done")
	assert.NotContains(t, out, "run: R-")
	assert.NoFileExists(t, w.journal)
}

func TestRunsListAndShow(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("MIGRATE_TENANTS", "true")
	w.src.Tenants = []record.Record{{"id": "x1", "tenantId": "acme", "name": "Acme"}}

	_, _, err := execute(t, rootCmd, "run", "--journal", w.journal, "--data-dir", w.dataDir)
	require.NoError(t, err)

	out, _, err := execute(t, rootCmd, "runs", "--journal", w.journal)
	require.NoError(t, err)
	assert.Regexp(t, `R-00001\s+run\s+done\s+0`, out)

	out, _, err = execute(t, rootCmd, "runs", "show", "r-00001", "--journal", w.journal)
	require.NoError(t, err)
	assert.Contains(t, out, "Run R-00001")
	assert.Regexp(t, `tenants\s+ok\s+1`, out)

	_, _, err = execute(t, rootCmd, "runs", "show", "R-00009", "--journal", w.journal)
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestRunsWithJournalOff(t *testing.T) {
	newWorkspace(t)
	_, _, err := execute(t, rootCmd, "runs", "--journal", "off")
	assert.EqualError(t, err, "run journal is disabled (JOURNAL_PATH=off)")
}
