package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lherron/acctmigrate/internal/render"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "logs", "run.log")

	log, closer, err := New(Options{Level: "info", Console: &console, FilePath: logPath})
	require.NoError(t, err)

	log.Module("migrate").Module("roles").Info("created role", "key", "admin")
	log.Debug("hidden on console")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "module=migrate.roles")
	assert.Contains(t, console.String(), "key=admin")
	assert.NotContains(t, console.String(), "hidden on console")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"module":"migrate.roles"`)
	assert.Contains(t, string(data), "hidden on console")
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"", "debug", "INFO", "warn", "error"} {
		_, err := ParseLevel(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestCapture(t *testing.T) {
	c := NewCapture()
	roles := c.Module("roles").With("step", "roles")
	roles.Debug("dropped reference", "id", "p-1")
	c.Warn("duplicate key")

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "roles", entries[0].Module)
	assert.Equal(t, "p-1", entries[0].Attrs["id"])
	assert.Equal(t, "roles", entries[0].Attrs["step"])
	assert.True(t, c.Contains("warn", "duplicate"))
	assert.False(t, c.Contains("error", "duplicate"))
}

func TestReporterMirrorsToLogger(t *testing.T) {
	var out bytes.Buffer
	c := NewCapture()
	r := NewReporter(&out, c)

	r.Section("Roles")
	r.Success("created %s", "admin")
	r.Failure("failed %s", "viewer")
	r.Stats("Summary", []render.Stat{{Label: "Created", Value: "1"}})

	p := r.StartProgress(2, "Creating")
	p.Step("a")
	p.Step("b")
	p.Done()

	text := out.String()
	assert.Contains(t, text, "✓ created admin")
	assert.Contains(t, text, "✗ failed viewer")
	assert.Contains(t, text, "Created")
	// not a terminal, so no progress bar
	assert.False(t, strings.Contains(text, "█"))
	assert.True(t, c.Contains("error", "failed viewer"))
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "██████████░░░░░░░░░░", progressBar(50, 20))
	assert.Equal(t, strings.Repeat("█", 20), progressBar(150, 20))
}
