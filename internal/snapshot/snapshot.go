// Package snapshot provides the atomic write-temp-then-rename primitive
// shared by every component that persists state to disk (guardrails,
// execution quality, the durability manager, the nightly learning job).
//
// The Python source's guardrails._save_state writes the target file
// directly with no temp file, despite the spec requiring atomic writes
// everywhere state is persisted; every caller here gets atomicity for
// free rather than re-implementing it per component.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Envelope wraps a persisted document with the saved_at timestamp and
// version field the spec requires for every persisted file.
type Envelope struct {
	SavedAt time.Time       `json:"saved_at"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// WriteAtomic marshals data into an Envelope and writes it to path via a
// temp file in the same directory followed by a rename, so a reader never
// observes a partially-written file.
func WriteAtomic(path string, version int, data any) error {
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal data: %w", err)
	}
	env := Envelope{SavedAt: time.Now().UTC(), Version: version, Data: raw}
	envBytes, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal envelope: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(envBytes); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return nil
}

// ReadInto reads the envelope at path and unmarshals its Data into out.
// A missing file is reported via os.IsNotExist on the returned error so
// callers can fall back to defaults, per the spec's read-failure policy.
func ReadInto(path string, out any) (Envelope, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("snapshot: unmarshal envelope: %w", err)
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env, fmt.Errorf("snapshot: unmarshal data: %w", err)
		}
	}
	return env, nil
}
