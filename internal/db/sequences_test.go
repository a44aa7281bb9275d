package db

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Migrate(); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}
	return database
}

func TestNextSequence(t *testing.T) {
	database := openTestDB(t)

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(database, "run_seq")
		if err != nil {
			t.Fatalf("NextSequence: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
}

func TestCounterRepairAfterRestoredRuns(t *testing.T) {
	database := openTestDB(t)

	// Rows restored from another journal carry ids the counter never issued.
	_, err := database.Exec(`
		INSERT INTO runs (uuid, id, mode) VALUES
			('run-uuid-1', 'R-00042', 'run'),
			('run-uuid-2', 'R-00007', 'plan'),
			('run-uuid-3', 'R-legacy', 'run')
	`)
	if err != nil {
		t.Fatalf("failed to insert runs: %v", err)
	}

	drifts, err := CheckCounters(database, Counters())
	if err != nil {
		t.Fatalf("CheckCounters: %v", err)
	}
	if len(drifts) != 1 || drifts[0].Counter != "run_seq" || drifts[0].Table != "runs" {
		t.Fatalf("expected run_seq drift, got %+v", drifts)
	}
	if drifts[0].Highest != 42 || drifts[0].Current != 0 {
		t.Errorf("unexpected drift %+v", drifts[0])
	}

	repaired, err := RepairCounters(database, Counters())
	if err != nil {
		t.Fatalf("RepairCounters: %v", err)
	}
	if len(repaired) != 1 {
		t.Errorf("expected one repaired counter, got %+v", repaired)
	}

	next, err := NextSequence(database, "run_seq")
	if err != nil {
		t.Fatalf("NextSequence: %v", err)
	}
	if next != 43 {
		t.Fatalf("expected next run 43 after repair, got %d", next)
	}

	drifts, err = CheckCounters(database, Counters())
	if err != nil {
		t.Fatalf("CheckCounters after repair: %v", err)
	}
	if len(drifts) != 0 {
		t.Fatalf("expected no drift after repair, found %+v", drifts)
	}
}
