// Package history implements the supplemented run-history ledger: a local
// SQLite database recording every completed batch across resumed
// invocations, queried through ProjectTotals and RecentRuns. The batch
// package's GetProgressReport does not read this ledger; it renders only the
// current BatchProgress snapshot. Grounded on the teacher's
// pkg/discovery.Database (sql.Open + explicit schema + wrapped errors),
// retargeted from rate-limit observations to batch completion rows.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists completed-batch rows to a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Run is one completed batch, per spec.md §4.7's BatchResult plus the
// timestamp this ledger adds.
type Run struct {
	RunID      string
	Project    string
	BatchIndex int
	Completed  int
	Failed     int
	TotalCost  float64
	TotalTokens int
	DurationMs int64
	RecordedAt time.Time
}

// Open creates or opens the history database at dbPath, initializing its
// schema if needed.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batch_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		project TEXT NOT NULL,
		batch_index INTEGER NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		total_cost REAL NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		recorded_at INTEGER NOT NULL,
		UNIQUE(run_id, batch_index)
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_run ON batch_runs(run_id);
	CREATE INDEX IF NOT EXISTS idx_batch_runs_project ON batch_runs(project);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun records one completed batch's outcome in the ledger, replacing
// any earlier row with the same run id and batch index.
func (s *Store) RecordRun(run Run) error {
	query := `
	INSERT INTO batch_runs (run_id, project, batch_index, completed, failed, total_cost, total_tokens, duration_ms, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, batch_index) DO UPDATE SET
		completed = excluded.completed,
		failed = excluded.failed,
		total_cost = excluded.total_cost,
		total_tokens = excluded.total_tokens,
		duration_ms = excluded.duration_ms,
		recorded_at = excluded.recorded_at`

	_, err := s.db.Exec(query, run.RunID, run.Project, run.BatchIndex, run.Completed, run.Failed, run.TotalCost, run.TotalTokens, run.DurationMs, run.RecordedAt.Unix())
	if err != nil {
		return fmt.Errorf("record batch run: %w", err)
	}
	return nil
}

// Totals summarizes every recorded run for a project across all resumed
// invocations.
type Totals struct {
	Runs        int
	Completed   int
	Failed      int
	TotalCost   float64
	TotalTokens int
}

// ProjectTotals aggregates every recorded batch for project.
func (s *Store) ProjectTotals(project string) (Totals, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(completed), 0), COALESCE(SUM(failed), 0),
		       COALESCE(SUM(total_cost), 0), COALESCE(SUM(total_tokens), 0)
		FROM batch_runs WHERE project = ?`, project)

	var t Totals
	if err := row.Scan(&t.Runs, &t.Completed, &t.Failed, &t.TotalCost, &t.TotalTokens); err != nil {
		return Totals{}, fmt.Errorf("aggregate project totals: %w", err)
	}
	return t, nil
}

// RecentRuns returns the most recent limit runs for project, newest first.
func (s *Store) RecentRuns(project string, limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, project, batch_index, completed, failed, total_cost, total_tokens, duration_ms, recorded_at
		FROM batch_runs WHERE project = ? ORDER BY recorded_at DESC LIMIT ?`, project, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var recordedAt int64
		if err := rows.Scan(&r.RunID, &r.Project, &r.BatchIndex, &r.Completed, &r.Failed, &r.TotalCost, &r.TotalTokens, &r.DurationMs, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.RecordedAt = time.Unix(recordedAt, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
