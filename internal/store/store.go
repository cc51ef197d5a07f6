// Package store persists the event log the nightly learning job reads
// from (internal/learnjob.EventSource) and the run-history rows the
// control-plane API lists, on sqlite. Grounded on store/strategy.go's
// schema-on-open/prepared-Exec idiom; the schema itself is new since
// nothing in the teacher's strategy table (AI-tactic configuration)
// applies to this domain.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite connection backing the event log and run
// history.
type Store struct {
	db *sql.DB
}

// Open creates the database file's parent directory if needed, opens the
// sqlite connection, and ensures the schema exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts DATETIME NOT NULL,
			symbol TEXT NOT NULL,
			prob_up REAL,
			label INTEGER,
			shap_top TEXT NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`)

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			params TEXT NOT NULL DEFAULT '{}',
			summary TEXT
		)
	`)
	if err != nil {
		return err
	}
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`)

	return nil
}

// Close closes the underlying sqlite connection.
func (s *Store) Close() error {
	return s.db.Close()
}
