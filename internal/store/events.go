package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"ziggylab/internal/learnjob"
)

// RecordEvent inserts one labeled-prediction event for the nightly
// learning job to later read back.
func (s *Store) RecordEvent(ev learnjob.Event) error {
	shapJSON, err := json.Marshal(ev.ShapTop)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO events (ts, symbol, prob_up, label, shap_top) VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp, ev.Symbol, ev.ProbUp, ev.Label, string(shapJSON),
	)
	return err
}

// Events implements learnjob.EventSource, returning every event recorded
// at or after since, ordered oldest first.
func (s *Store) Events(since time.Time) ([]learnjob.Event, error) {
	rows, err := s.db.Query(
		`SELECT ts, symbol, prob_up, label, shap_top FROM events WHERE ts >= ? ORDER BY ts ASC`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []learnjob.Event
	for rows.Next() {
		var (
			ev       learnjob.Event
			shapJSON string
			probUp   sql.NullFloat64
			label    sql.NullInt64
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Symbol, &probUp, &label, &shapJSON); err != nil {
			return nil, err
		}
		if probUp.Valid {
			v := probUp.Float64
			ev.ProbUp = &v
		}
		if label.Valid {
			v := int(label.Int64)
			ev.Label = &v
		}
		if err := json.Unmarshal([]byte(shapJSON), &ev.ShapTop); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
