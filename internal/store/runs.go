package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"ziggylab/internal/engine"
	"ziggylab/internal/model"
)

// ErrRunNotFound is returned when a run-id has no matching row.
var ErrRunNotFound = errors.New("store: run not found")

// RunRecord is one row of run history: the static params a run started
// with, and its summary once stopped.
type RunRecord struct {
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	StoppedAt *time.Time      `json:"stopped_at,omitempty"`
	Params    model.RunParams `json:"params"`
	Summary   *engine.Summary `json:"summary,omitempty"`
}

// RecordRunStart inserts a new run row at start time.
func (s *Store) RecordRunStart(runID string, params model.RunParams, startedAt time.Time) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO runs (run_id, started_at, params) VALUES (?, ?, ?)`,
		runID, startedAt, string(paramsJSON),
	)
	return err
}

// RecordRunStop fills in the stop time and summary for an existing run
// row.
func (s *Store) RecordRunStop(runID string, summary engine.Summary, stoppedAt time.Time) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE runs SET stopped_at = ?, summary = ? WHERE run_id = ?`,
		stoppedAt, string(summaryJSON), runID,
	)
	return err
}

// GetRun returns one run's history row.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	var (
		rec        RunRecord
		paramsJSON string
		summaryJSON sql.NullString
		stoppedAt  sql.NullTime
	)
	err := s.db.QueryRow(
		`SELECT run_id, started_at, stopped_at, params, summary FROM runs WHERE run_id = ?`,
		runID,
	).Scan(&rec.RunID, &rec.StartedAt, &stoppedAt, &paramsJSON, &summaryJSON)
	if err == sql.ErrNoRows {
		return RunRecord{}, ErrRunNotFound
	}
	if err != nil {
		return RunRecord{}, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
		return RunRecord{}, err
	}
	if stoppedAt.Valid {
		rec.StoppedAt = &stoppedAt.Time
	}
	if summaryJSON.Valid {
		var summary engine.Summary
		if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
			return RunRecord{}, err
		}
		rec.Summary = &summary
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first, capped at limit.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT run_id, started_at, stopped_at, params, summary FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			rec         RunRecord
			paramsJSON  string
			summaryJSON sql.NullString
			stoppedAt   sql.NullTime
		)
		if err := rows.Scan(&rec.RunID, &rec.StartedAt, &stoppedAt, &paramsJSON, &summaryJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
			return nil, err
		}
		if stoppedAt.Valid {
			rec.StoppedAt = &stoppedAt.Time
		}
		if summaryJSON.Valid {
			var summary engine.Summary
			if err := json.Unmarshal([]byte(summaryJSON.String), &summary); err != nil {
				return nil, err
			}
			rec.Summary = &summary
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
