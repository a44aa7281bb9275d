package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Counter is an AUTOINCREMENT table whose values are rendered into the
// friendly ids of Table ("R-00042" for run 42).
type Counter struct {
	Name   string
	Table  string
	Prefix string
}

// Drift reports a counter that would hand out an id already present in its
// table, which happens when rows are inserted or restored without going
// through the counter.
type Drift struct {
	Counter string
	Table   string
	Highest int
	Current int
}

type sqlExecutor interface {
	Exec(query string, args ...any) (sql.Result, error)
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

// Counters returns the journal's id counters.
func Counters() []Counter {
	return []Counter{{Name: "run_seq", Table: "runs", Prefix: "R-"}}
}

// NextSequence allocates the next value of counter.
func NextSequence(exec sqlExecutor, counter string) (int, error) {
	res, err := exec.Exec(fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", counter))
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s: %w", counter, err)
	}
	n, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// CheckCounters lists the counters lagging behind the highest id in their
// table.
func CheckCounters(exec sqlExecutor, counters []Counter) ([]Drift, error) {
	var drifts []Drift
	for _, c := range counters {
		highest, err := highestID(exec, c)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s ids: %w", c.Table, err)
		}
		current, err := counterValue(exec, c.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read counter %s: %w", c.Name, err)
		}
		if current < highest {
			drifts = append(drifts, Drift{Counter: c.Name, Table: c.Table, Highest: highest, Current: current})
		}
	}
	return drifts, nil
}

// RepairCounters advances lagging counters to the highest id in use and
// returns what it changed.
func RepairCounters(exec sqlExecutor, counters []Counter) ([]Drift, error) {
	drifts, err := CheckCounters(exec, counters)
	if err != nil {
		return nil, err
	}
	for _, d := range drifts {
		if err := setCounter(exec, d.Counter, d.Highest); err != nil {
			return nil, fmt.Errorf("failed to advance counter %s: %w", d.Counter, err)
		}
	}
	return drifts, nil
}

// highestID parses the numeric suffix of every friendly id in the table.
// Ids that do not parse are ignored.
func highestID(exec sqlExecutor, c Counter) (int, error) {
	rows, err := exec.Query(fmt.Sprintf("SELECT id FROM %s WHERE id LIKE ?", c.Table), c.Prefix+"%")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	highest := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, c.Prefix))
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest, rows.Err()
}

func counterValue(exec sqlExecutor, name string) (int, error) {
	var seq sql.NullInt64
	err := exec.QueryRow("SELECT seq FROM sqlite_sequence WHERE name = ?", name).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return int(seq.Int64), nil
}

// setCounter writes value into sqlite_sequence. A counter that never
// allocated has no row yet.
func setCounter(exec sqlExecutor, name string, value int) error {
	res, err := exec.Exec("UPDATE sqlite_sequence SET seq = ? WHERE name = ?", value, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}
	_, err = exec.Exec("INSERT INTO sqlite_sequence (name, seq) VALUES (?, ?)", name, value)
	return err
}
