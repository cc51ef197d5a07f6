// Package durability implements the durability manager (C9): periodic
// atomic snapshot and best-effort restore across the components cmd/lab
// registers — bandit allocations, guardrail risk counters,
// execution-quality buckets, the broker's position book, and the online
// learner. The engine is not registered: its run parameters are not
// snapshotted, and a restart does not bring a run back. Grounded on
// spec.md §4.9 and the save/load orchestration in
// original_source/backend/app/trading/guardrails.py's _save_state/
// _load_state, generalized here to cover every component rather than one.
package durability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"ziggylab/internal/snapshot"
)

const stateVersion = 1

// Component registers one piece of durable state with the manager. Save
// returns the current value to persist (or an error if the component has
// nothing worth saving yet); Load is only invoked when a prior snapshot
// exists on disk, and receives that snapshot's raw data for the caller to
// unmarshal into its own typed state and apply.
type Component struct {
	Name string
	Save func() (any, error)
	Load func(data json.RawMessage) error
}

// Result reports the outcome of one component's save or restore attempt.
type Result struct {
	Component string
	Skipped   bool // no prior snapshot existed (restore only)
	Err       error
}

// Report summarizes a SaveAll/RestoreAll pass.
type Report struct {
	Results []Result
}

// OK returns true if every component succeeded (skips do not count as
// failures).
func (r Report) OK() bool {
	for _, res := range r.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Manager owns a directory of one JSON snapshot file per registered
// component. It is not itself safe to Register concurrently with a
// SaveAll/RestoreAll pass; registration happens once at startup wiring.
type Manager struct {
	dir string
	log zerolog.Logger

	mu         sync.Mutex
	components []Component
}

func NewManager(dir string, log zerolog.Logger) *Manager {
	return &Manager{dir: dir, log: log}
}

// Register adds a component to the save/restore set. Call order is
// preserved, so callers that want a dependency restored before a
// dependent component should register it first.
func (m *Manager) Register(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, c)
}

func (m *Manager) pathFor(name string) string {
	return filepath.Join(m.dir, name+".json")
}

// SaveAll snapshots every registered component. A single component's
// failure is logged and recorded in the report but never aborts the rest
// of the pass, per the spec's best-effort persistence policy.
func (m *Manager) SaveAll() Report {
	m.mu.Lock()
	components := make([]Component, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	report := Report{Results: make([]Result, 0, len(components))}
	for _, c := range components {
		val, err := c.Save()
		if err != nil {
			m.log.Warn().Err(err).Str("component", c.Name).Msg("durability: save skipped")
			report.Results = append(report.Results, Result{Component: c.Name, Err: err})
			continue
		}
		if err := snapshot.WriteAtomic(m.pathFor(c.Name), stateVersion, val); err != nil {
			m.log.Error().Err(err).Str("component", c.Name).Msg("durability: atomic write failed")
			report.Results = append(report.Results, Result{Component: c.Name, Err: err})
			continue
		}
		report.Results = append(report.Results, Result{Component: c.Name})
	}
	return report
}

// RestoreAll loads every registered component for which a prior snapshot
// exists on disk. A missing file is not an error — the component simply
// starts from its own zero-value defaults — but a corrupt file or a
// failing Load is logged and recorded, and the pass continues with the
// remaining components.
func (m *Manager) RestoreAll() Report {
	m.mu.Lock()
	components := make([]Component, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	report := Report{Results: make([]Result, 0, len(components))}
	for _, c := range components {
		var raw json.RawMessage
		_, err := snapshot.ReadInto(m.pathFor(c.Name), &raw)
		if err != nil {
			if os.IsNotExist(err) {
				report.Results = append(report.Results, Result{Component: c.Name, Skipped: true})
				continue
			}
			m.log.Warn().Err(err).Str("component", c.Name).Msg("durability: restore read failed, using defaults")
			report.Results = append(report.Results, Result{Component: c.Name, Err: err})
			continue
		}
		if err := c.Load(raw); err != nil {
			m.log.Warn().Err(err).Str("component", c.Name).Msg("durability: restore apply failed, using defaults")
			report.Results = append(report.Results, Result{Component: c.Name, Err: err})
			continue
		}
		report.Results = append(report.Results, Result{Component: c.Name})
	}
	return report
}
