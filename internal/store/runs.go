package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lherron/acctmigrate/internal/db"
	"github.com/lherron/acctmigrate/internal/domain"
	"github.com/lherron/acctmigrate/internal/id"
)

// ErrRunNotFound is returned when a run reference matches nothing.
var ErrRunNotFound = errors.New("run not found")

// RunStore handles run persistence operations.
type RunStore struct {
	store *Store
}

// BeginParams contains parameters for starting a run.
type BeginParams struct {
	Mode           domain.RunMode
	SourceURL      string
	DestinationURL string
}

// Begin inserts a running run and assigns its UUID and friendly ID.
func (rs *RunStore) Begin(params BeginParams) (*domain.Run, error) {
	if err := domain.ValidateRunMode(params.Mode); err != nil {
		return nil, err
	}

	var run *domain.Run
	err := rs.store.withTx(func(tx *sql.Tx) error {
		seq, err := db.NextSequence(tx, "run_seq")
		if err != nil {
			return err
		}

		uuid := id.NewUUID()
		friendly := id.FormatRun(seq)
		_, err = tx.Exec(`
			INSERT INTO runs (uuid, id, mode, source_url, destination_url)
			VALUES (?, ?, ?, ?, ?)
		`, uuid, friendly, params.Mode, params.SourceURL, params.DestinationURL)
		if err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}

		var startedAt string
		if err := tx.QueryRow("SELECT started_at FROM runs WHERE uuid = ?", uuid).Scan(&startedAt); err != nil {
			return fmt.Errorf("failed to read run: %w", err)
		}

		run = &domain.Run{
			UUID:           uuid,
			ID:             friendly,
			Mode:           params.Mode,
			SourceURL:      params.SourceURL,
			DestinationURL: params.DestinationURL,
			State:          domain.RunStateRunning,
			StartedAt:      startedAt,
		}
		return nil
	})

	return run, err
}

// RecordStep stores a step summary together with its failed records.
func (rs *RunStore) RecordStep(runUUID string, step domain.Step, failures []domain.Failure) error {
	if err := step.Validate(); err != nil {
		return err
	}

	return rs.store.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO run_steps (run_uuid, position, name, status, total, created, updated, skipped, deleted, failed, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runUUID, step.Position, step.Name, step.Status,
			step.Total, step.Created, step.Updated, step.Skipped, step.Deleted, step.Failed, step.Error)
		if err != nil {
			return fmt.Errorf("failed to record step %s: %w", step.Name, err)
		}

		for _, f := range failures {
			_, err := tx.Exec(`
				INSERT INTO run_failures (run_uuid, step, item, status, message)
				VALUES (?, ?, ?, ?, ?)
			`, runUUID, step.Name, f.Item, f.Status, f.Message)
			if err != nil {
				return fmt.Errorf("failed to record failure for %s: %w", f.Item, err)
			}
		}
		return nil
	})
}

// Finish marks a run as ended.
func (rs *RunStore) Finish(runUUID string, state domain.RunState, exitCode int) error {
	if err := domain.ValidateRunState(state); err != nil {
		return err
	}

	res, err := rs.store.db.Exec(`
		UPDATE runs
		SET state = ?, exit_code = ?, finished_at = strftime('%Y-%m-%dT%H:%M:%SZ','now')
		WHERE uuid = ?
	`, state, exitCode, runUUID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runUUID)
	}
	return nil
}

// List returns the most recent runs first, without steps. A limit of zero
// returns every run.
func (rs *RunStore) List(limit int) ([]domain.Run, error) {
	query := `
		SELECT uuid, id, mode, source_url, destination_url, state, exit_code, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := rs.store.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Get looks a run up by friendly ID or UUID and loads its steps.
func (rs *RunStore) Get(ref string) (*domain.Run, error) {
	ref = strings.TrimSpace(ref)
	column := "uuid"
	if id.IsRunID(ref) {
		column = "id"
		ref = strings.ToUpper(ref)
	}

	row := rs.store.db.QueryRow(`
		SELECT uuid, id, mode, source_url, destination_url, state, exit_code, started_at, finished_at
		FROM runs WHERE `+column+` = ?
	`, ref)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, ref)
	}
	if err != nil {
		return nil, err
	}

	steps, err := rs.steps(run.UUID)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return run, nil
}

// Failures returns the failed records of a run in insertion order.
func (rs *RunStore) Failures(runUUID string) ([]domain.Failure, error) {
	rows, err := rs.store.db.Query(`
		SELECT step, item, status, message FROM run_failures
		WHERE run_uuid = ? ORDER BY id
	`, runUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []domain.Failure
	for rows.Next() {
		var f domain.Failure
		if err := rows.Scan(&f.Step, &f.Item, &f.Status, &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (rs *RunStore) steps(runUUID string) ([]domain.Step, error) {
	rows, err := rs.store.db.Query(`
		SELECT position, name, status, total, created, updated, skipped, deleted, failed, error
		FROM run_steps WHERE run_uuid = ? ORDER BY position
	`, runUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var out []domain.Step
	for rows.Next() {
		var s domain.Step
		if err := rows.Scan(&s.Position, &s.Name, &s.Status, &s.Total, &s.Created,
			&s.Updated, &s.Skipped, &s.Deleted, &s.Failed, &s.Error); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.Run, error) {
	var run domain.Run
	var exitCode sql.NullInt64
	var finishedAt sql.NullString
	err := row.Scan(&run.UUID, &run.ID, &run.Mode, &run.SourceURL, &run.DestinationURL,
		&run.State, &exitCode, &run.StartedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.String
	}
	return &run, nil
}
