package cli

import (
	"fmt"

	"github.com/lherron/acctmigrate/internal/cli/appctx"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/logging"
	"github.com/lherron/acctmigrate/internal/orchestrator"
	"github.com/lherron/acctmigrate/internal/store"
)

// recorder writes a run into the journal as it progresses. A nil recorder
// (journal disabled) accepts every call and records nothing.
type recorder struct {
	store *store.Store
	run   *domain.Run
	log   logging.Logger
	err   error
}

func beginRecording(app *appctx.App, mode domain.RunMode) (*recorder, error) {
	if app.Store == nil {
		return nil, nil
	}
	run, err := app.Store.Runs.Begin(store.BeginParams{
		Mode:           mode,
		SourceURL:      app.Config.Source.BaseURL,
		DestinationURL: app.Config.Destination.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start journal entry: %w", err)
	}
	app.Log.Info("run started", "run", run.ID, "mode", string(mode))
	return &recorder{store: app.Store, run: run, log: app.Log.Module("journal")}, nil
}

// RunID returns the friendly run ID, or "" when not recording.
func (r *recorder) RunID() string {
	if r == nil {
		return ""
	}
	return r.run.ID
}

// step stores one summary. The first failure is kept and reported by
// finish; the migration itself carries on.
func (r *recorder) step(sum orchestrator.Summary) {
	if r == nil || r.err != nil {
		return
	}
	if err := r.store.Runs.RecordStep(r.run.UUID, sum.Step(), sum.Failures()); err != nil {
		r.log.Error("failed to record step", "step", sum.Name, "error", err)
		r.err = err
	}
}

func (r *recorder) finish(report *orchestrator.Report) error {
	if r == nil {
		return nil
	}
	state := domain.RunStateDone
	switch {
	case report.State == orchestrator.StateAuthFailed:
		state = domain.RunStateAuthFailed
	case report.Err != nil:
		state = domain.RunStateFailed
	}
	if err := r.store.Runs.Finish(r.run.UUID, state, report.ExitCode()); err != nil && r.err == nil {
		r.err = err
	}
	if r.err != nil {
		return fmt.Errorf("journal %s is incomplete: %w", r.run.ID, r.err)
	}
	return nil
}
