// Package audit keeps the history of every converge run in a SQLite
// database: one row per run and one row per spec visited.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/atomikpanda/converge/internal/report"
)

// EnvPath overrides the history database location.
const EnvPath = "CONVERGE_HISTORY"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	command     TEXT NOT NULL,
	manifest    TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	applied     INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS entries (
	run_id   TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	seq      INTEGER NOT NULL,
	key      TEXT NOT NULL,
	kind     TEXT NOT NULL,
	identity TEXT NOT NULL,
	outcome  TEXT NOT NULL,
	time     INTEGER NOT NULL,
	duration INTEGER NOT NULL,
	detail   TEXT NOT NULL,
	error    TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS runs_started ON runs(started_at);
`

// Run summarises one stored run.
type Run struct {
	ID         string
	Command    string // "apply"
	Manifest   string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    report.Summary
}

// Store is the run history database.
type Store struct {
	pool *sqlitex.Pool
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("audit: create %s: %w", filepath.Dir(path), err)
		}
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: 1,
		PrepareConn: func(conn *sqlite.Conn) error {
			if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON;", nil); err != nil {
				return err
			}
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Store{pool: pool, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.pool.Close()
}

// Save stores a finalized record in one transaction.
func (s *Store) Save(ctx context.Context, command, manifest string, rec *report.Record) (err error) {
	if !rec.Finalized() {
		return fmt.Errorf("audit: run %s is not finalized", rec.ID)
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("audit: save: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("audit: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	sum := rec.Summary()
	err = sqlitex.Execute(conn,
		`INSERT INTO runs (id, command, manifest, started_at, finished_at, applied, skipped, failed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			rec.ID, command, manifest,
			rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano(),
			sum.Applied, sum.Skipped, sum.Failed,
		}})
	if err != nil {
		return fmt.Errorf("audit: insert run %s: %w", rec.ID, err)
	}

	for i, e := range rec.Entries() {
		err = sqlitex.Execute(conn,
			`INSERT INTO entries (run_id, seq, key, kind, identity, outcome, time, duration, detail, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{
				rec.ID, i, e.Key, e.Kind, e.Identity, string(e.Outcome),
				e.Time.UnixNano(), int64(e.Duration), e.Detail, e.Error,
			}})
		if err != nil {
			return fmt.Errorf("audit: insert entry %s: %w", e.Key, err)
		}
	}
	return nil
}

const runColumns = "id, command, manifest, started_at, finished_at, applied, skipped, failed"

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: runs: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = -1
	}
	var runs []Run
	err = sqlitex.Execute(conn,
		"SELECT "+runColumns+" FROM runs ORDER BY started_at DESC, id LIMIT ?",
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				runs = append(runs, scanRun(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: query runs: %w", err)
	}
	return runs, nil
}

// Run looks a run up by its ID or a unique prefix of it.
func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Run{}, fmt.Errorf("audit: run: %w", err)
	}
	defer s.pool.Put(conn)

	var matches []Run
	err = sqlitex.Execute(conn,
		"SELECT "+runColumns+" FROM runs WHERE id = ? OR substr(id, 1, length(?)) = ? ORDER BY id LIMIT 2",
		&sqlitex.ExecOptions{
			Args: []any{id, id, id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				matches = append(matches, scanRun(stmt))
				return nil
			},
		})
	if err != nil {
		return Run{}, fmt.Errorf("audit: query run %s: %w", id, err)
	}
	switch {
	case len(matches) == 0:
		return Run{}, fmt.Errorf("audit: no run %q", id)
	case len(matches) > 1 && matches[0].ID != id:
		return Run{}, fmt.Errorf("audit: run id %q is ambiguous", id)
	}
	return matches[0], nil
}

// Entries returns the trace of runID in execution order.
func (s *Store) Entries(ctx context.Context, runID string) ([]report.Entry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: entries: %w", err)
	}
	defer s.pool.Put(conn)

	var entries []report.Entry
	err = sqlitex.Execute(conn,
		`SELECT key, kind, identity, outcome, time, duration, detail, error
		 FROM entries WHERE run_id = ? ORDER BY seq`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entries = append(entries, report.Entry{
					Key:      stmt.ColumnText(0),
					Kind:     stmt.ColumnText(1),
					Identity: stmt.ColumnText(2),
					Outcome:  report.Outcome(stmt.ColumnText(3)),
					Time:     time.Unix(0, stmt.ColumnInt64(4)).UTC(),
					Duration: time.Duration(stmt.ColumnInt64(5)),
					Detail:   stmt.ColumnText(6),
					Error:    stmt.ColumnText(7),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("audit: query entries of %s: %w", runID, err)
	}
	return entries, nil
}

// Record rebuilds the stored run as a finalized report.Record.
func (s *Store) Record(ctx context.Context, id string) (Run, *report.Record, error) {
	run, err := s.Run(ctx, id)
	if err != nil {
		return Run{}, nil, err
	}
	entries, err := s.Entries(ctx, run.ID)
	if err != nil {
		return Run{}, nil, err
	}
	return run, report.Restore(run.ID, run.StartedAt, run.FinishedAt, entries), nil
}

func scanRun(stmt *sqlite.Stmt) Run {
	return Run{
		ID:         stmt.ColumnText(0),
		Command:    stmt.ColumnText(1),
		Manifest:   stmt.ColumnText(2),
		StartedAt:  time.Unix(0, stmt.ColumnInt64(3)).UTC(),
		FinishedAt: time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		Summary: report.Summary{
			Applied: int(stmt.ColumnInt64(5)),
			Skipped: int(stmt.ColumnInt64(6)),
			Failed:  int(stmt.ColumnInt64(7)),
		},
	}
}

// DefaultPath returns $CONVERGE_HISTORY, or
// ~/.local/share/converge/history.db.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "converge", "history.db"), nil
}
