// Package appctx provides a shared bootstrap helper for CLI commands.
// It centralizes config loading, logger construction and journal opening
// to reduce boilerplate across commands.
package appctx

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lherron/acctmigrate/internal/config"
	"github.com/lherron/acctmigrate/internal/db"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/store"
)

// App holds the shared application context for commands.
type App struct {
	// Config is the loaded configuration with flag overrides applied
	Config *config.Config

	// Log writes to stderr and, when configured, the JSON log file
	Log logging.Logger

	// DB is the opened journal (nil if not requested or JOURNAL_PATH=off)
	DB *db.DB

	// Store wraps DB (nil whenever DB is nil)
	Store *store.Store

	closers []io.Closer
}

// Close releases resources held by the App.
// Safe to call multiple times.
func (a *App) Close() {
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
		a.Store = nil
	}
	for _, c := range a.closers {
		c.Close()
	}
	a.closers = nil
}

// Options configures the bootstrap behavior.
type Options struct {
	// NeedsJournal opens the run journal when it is enabled.
	NeedsJournal bool

	// AutoMigrate applies pending journal migrations instead of failing.
	AutoMigrate bool
}

// RunFunc is the signature for command run functions.
type RunFunc func(app *App, cmd *cobra.Command, args []string) error

// WithApp wraps a command's run function with shared bootstrap logic.
// The journal and log file are closed automatically when the wrapped
// function returns.
func WithApp(opts Options, fn RunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := Bootstrap(cmd, opts)
		if err != nil {
			return err
		}
		defer app.Close()

		return fn(app, cmd, args)
	}
}

// Bootstrap initializes the App according to the given options.
// Callers are responsible for calling App.Close() when done.
func Bootstrap(cmd *cobra.Command, opts Options) (*App, error) {
	app := &App{}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	app.Config = cfg

	log, closer, err := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		Console:  cmd.ErrOrStderr(),
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	app.Log = log
	app.closers = append(app.closers, closer)

	if opts.NeedsJournal && cfg.JournalEnabled() {
		database, err := openJournal(cfg.JournalPath, opts.AutoMigrate)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.DB = database
		app.Store = store.New(database)
	}

	return app, nil
}

func openJournal(path string, autoMigrate bool) (*db.DB, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if autoMigrate {
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to migrate journal: %w", err)
		}
		return database, nil
	}

	if err := database.RequiresMigrationError(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// applyFlags layers persistent command-line flags over the loaded config.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	str := func(name string, dst *string) {
		if f := cmd.Flag(name); f != nil && f.Value.String() != "" {
			*dst = f.Value.String()
		}
	}
	str("journal", &cfg.JournalPath)
	str("log-level", &cfg.LogLevel)
	str("log-file", &cfg.LogFile)
	str("data-dir", &cfg.DataDir)
	str("policy", &cfg.PolicyPath)

	if f := cmd.Flag("strict-keys"); f != nil && f.Changed {
		cfg.StrictKeys = f.Value.String() == "true"
	}
}

// ErrNoJournal is returned by commands that read the journal when it is
// disabled.
var ErrNoJournal = errors.New("run journal is disabled (JOURNAL_PATH=off)")
