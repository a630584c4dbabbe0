// Package ledger records pipeline runs in a sqlite database so completed
// cycles are not processed twice.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Status is the state of a run.
type Status string

const (
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// Run is one stage of one cycle and product.
type Run struct {
	ID       int64
	Cycle    time.Time
	Product  string
	Stage    string
	Status   Status
	Started  time.Time
	Finished time.Time
	Outputs  []string
	Error    string
}

// Ledger is a sqlite run ledger.
type Ledger struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle TEXT NOT NULL,
	product TEXT NOT NULL,
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	started TEXT NOT NULL,
	finished TEXT,
	outputs TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_cycle ON runs(cycle, product, stage);
`

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// Start records a running stage and returns its id.
func (l *Ledger) Start(ctx context.Context, cycle time.Time, product, stage string, now time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (cycle, product, stage, status, started) VALUES (?, ?, ?, ?, ?)`,
		formatTime(cycle), product, stage, string(Running), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("record start of %s %s: %w", product, stage, err)
	}
	return res.LastInsertId()
}

// Finish marks run id as succeeded, or failed when runErr is non-nil.
func (l *Ledger) Finish(ctx context.Context, id int64, now time.Time, outputs []string, runErr error) error {
	status, msg := Succeeded, ""
	if runErr != nil {
		status, msg = Failed, runErr.Error()
	}
	b, err := json.Marshal(outputs)
	if err != nil {
		return err
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished = ?, outputs = ?, error = ? WHERE id = ?`,
		string(status), formatTime(now), string(b), msg, id)
	if err != nil {
		return fmt.Errorf("record end of run %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("no run with id %d", id)
	}
	return nil
}

// Completed reports whether a stage of cycle and product has succeeded.
func (l *Ledger) Completed(ctx context.Context, cycle time.Time, product, stage string) (bool, error) {
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE cycle = ? AND product = ? AND stage = ? AND status = ?`,
		formatTime(cycle), product, stage, string(Succeeded)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query ledger: %w", err)
	}
	return n > 0, nil
}

// Runs returns every recorded run of cycle in insertion order.
func (l *Ledger) Runs(ctx context.Context, cycle time.Time) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, cycle, product, stage, status, started, finished, outputs, error
		 FROM runs WHERE cycle = ? ORDER BY id`, formatTime(cycle))
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                         Run
			cycleS, startS            string
			finishS, outputsS, errorS sql.NullString
			status                    string
		)
		if err := rows.Scan(&r.ID, &cycleS, &r.Product, &r.Stage, &status, &startS, &finishS, &outputsS, &errorS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Status = Status(status)
		r.Error = errorS.String
		if r.Cycle, err = time.Parse(time.RFC3339, cycleS); err != nil {
			return nil, err
		}
		if r.Started, err = time.Parse(time.RFC3339, startS); err != nil {
			return nil, err
		}
		if finishS.Valid {
			if r.Finished, err = time.Parse(time.RFC3339, finishS.String); err != nil {
				return nil, err
			}
		}
		if outputsS.Valid && outputsS.String != "" {
			if err := json.Unmarshal([]byte(outputsS.String), &r.Outputs); err != nil {
				return nil, fmt.Errorf("decode outputs of run %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
