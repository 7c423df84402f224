// Package store mirrors sweep results into an SQLite database, keeping the raw
// overhead and ratio that the CSV table drops.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/inference-sim/cachesweep/sweep"
)

const createTrialsSQL = `CREATE TABLE IF NOT EXISTS trials (
	run_id               TEXT    NOT NULL,
	c                    INTEGER NOT NULL,
	b                    INTEGER NOT NULL,
	s                    INTEGER NOT NULL,
	v                    INTEGER NOT NULL,
	t                    TEXT    NOT NULL,
	r                    TEXT    NOT NULL,
	aat                  REAL    NOT NULL,
	overhead_bits        INTEGER NOT NULL,
	ratio                REAL    NOT NULL,
	estimated_size_bytes INTEGER NOT NULL,
	elapsed_ms           INTEGER NOT NULL,
	recorded_at          TEXT    NOT NULL
);`

const insertTrialSQL = `INSERT INTO trials
	(run_id, c, b, s, v, t, r, aat, overhead_bits, ratio, estimated_size_bytes, elapsed_ms, recorded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SQLiteSink is a sweep.Sink backed by an SQLite file. Each append is its own
// committed statement, so rows survive an aborted sweep.
type SQLiteSink struct {
	mu    sync.Mutex
	db    *sql.DB
	stmt  *sql.Stmt
	runID string
}

// NewSQLiteSink opens (or creates) the database at path and prepares the
// trials table. Rows are tagged with runID.
func NewSQLiteSink(path, runID string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", path, err)
	}
	return NewSQLiteSinkWithDB(db, runID)
}

// NewSQLiteSinkWithDB wraps an already opened database.
func NewSQLiteSinkWithDB(db *sql.DB, runID string) (*SQLiteSink, error) {
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createTrialsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating trials table: %w", err)
	}
	stmt, err := db.Prepare(insertTrialSQL)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("preparing insert: %w", err)
	}
	return &SQLiteSink{db: db, stmt: stmt, runID: runID}, nil
}

// Append inserts one trial row.
func (s *SQLiteSink) Append(res sweep.TrialResult) error {
	t := res.Tuple
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("inserting trial: sink closed")
	}
	_, err := s.stmt.Exec(
		s.runID, t.C, t.B, t.S, t.V, t.T.String(), t.R.String(),
		res.AAT, int64(res.OverheadBits), res.Ratio, int64(res.EstimatedSizeBytes),
		res.Elapsed.Milliseconds(), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting trial %s: %w", t, err)
	}
	return nil
}

// Count returns the number of stored rows, optionally restricted to one run.
func (s *SQLiteSink) Count(runID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, fmt.Errorf("counting trials: sink closed")
	}
	var n int
	var err error
	if runID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM trials`).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM trials WHERE run_id = ?`, runID).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("counting trials: %w", err)
	}
	return n, nil
}

// Close releases the statement and database. It is safe to call more than once.
func (s *SQLiteSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	_ = s.stmt.Close()
	err := s.db.Close()
	s.db = nil
	return err
}
