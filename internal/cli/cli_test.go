package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/acctmigrate/internal/config"
	"github.com/lherron/acctmigrate/internal/testutil"
)

// workspace isolates config discovery and points both instances at fakes.
type workspace struct {
	src, dst *testutil.FakePlatform
	journal  string
	dataDir  string
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(home)

	w := &workspace{
		src:     testutil.NewFakePlatform(t, "source"),
		dst:     testutil.NewFakePlatform(t, "destination"),
		journal: filepath.Join(home, "journal.db"),
		dataDir: filepath.Join(home, "account_data"),
	}
	t.Setenv("BASE_URL_1", w.src.Server.URL)
	t.Setenv("CLIENT_ID_1", "cid-source")
	t.Setenv("API_KEY_1", "secret")
	t.Setenv("BASE_URL_2", w.dst.Server.URL)
	t.Setenv("CLIENT_ID_2", "cid-destination")
	t.Setenv("API_KEY_2", "secret")
	t.Setenv("RATE_LIMIT_RPM", "0")
	t.Setenv("LOG_LEVEL", "error")
	return w
}

// execute runs root with args and returns stdout, stderr and the error.
// Commands are package globals, so their flags and context are reset
// before every run.
func execute(t *testing.T, root *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	resetCommand(root)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	t.Cleanup(func() {
		root.SetArgs(nil)
		root.SetOut(nil)
		root.SetErr(nil)
		resetCommand(root)
	})

	err := root.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

// resetCommand restores flag defaults and clears the context cobra keeps on
// each command after its first execution.
func resetCommand(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	cmd.SetContext(nil) //nolint:staticcheck // nil makes cobra inherit the root context again
	for _, sub := range cmd.Commands() {
		resetCommand(sub)
	}
}

func TestCommandStateDoesNotLeakBetweenRuns(t *testing.T) {
	newWorkspace(t)

	stale, cancel := context.WithCancel(context.Background())
	cancel()
	rootCmd.SetArgs([]string{"steps"})
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	_ = rootCmd.ExecuteContext(stale)
	require.NoError(t, stepsCmd.Flags().Set("output", "json"))

	out, _, err := execute(t, rootCmd, "steps")
	require.NoError(t, err)
	assert.NoError(t, stepsCmd.Context().Err(), "context from an earlier run")
	assert.Contains(t, out, "VARIABLE", "--output from an earlier run")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
	assert.Equal(t, 5, ExitCode(exitError(5, nil)))
	assert.Equal(t, 1, ExitCode(exitError(1, errors.New("bad config"))))
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, nil)
	PrintError(&buf, exitError(5, nil))
	assert.Empty(t, buf.String(), "a bare exit code prints nothing")

	PrintError(&buf, exitError(1, errors.New("missing required configuration: API_KEY_2")))
	assert.Equal(t, "Error: missing required configuration: API_KEY_2\n", buf.String())
}

func TestEnableSteps(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, enableSteps(cfg, []string{"tenants", " roles "}))
	assert.True(t, cfg.Steps["tenants"])
	assert.True(t, cfg.Steps["roles"])
	assert.False(t, cfg.Steps["users"])

	err := enableSteps(cfg, []string{"tenant"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown step "tenant"`)
}

func TestStepsCommand(t *testing.T) {
	w := newWorkspace(t)
	t.Setenv("MIGRATE_ROLES", "true")

	out, _, err := execute(t, rootCmd, "steps", "--journal", w.journal)
	require.NoError(t, err)
	assert.Contains(t, out, "MIGRATE_JWT_SETTINGS")
	assert.Contains(t, out, "ASSIGN_ROLES_TO_USERS_ON_ALL_TENANTS")
	assert.Regexp(t, `roles\s+Roles\s+MIGRATE_ROLES\s+yes`, out)
}

func TestVersionJSON(t *testing.T) {
	out, _, err := execute(t, rootCmd, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"binary": "acctmigrate"`)
	assert.Contains(t, out, `"jwt_settings"`)
}
