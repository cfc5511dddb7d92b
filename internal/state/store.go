// Package state persists controller snapshots so a restart resumes
// supervision of open positions instead of starting blind.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	boterrors "github.com/ducle1408/futures-sentinel/internal/errors"
	"github.com/ducle1408/futures-sentinel/internal/position"
	"github.com/ducle1408/futures-sentinel/internal/risk"
)

const snapshotVersion = 1

// Snapshot is the complete persisted controller state.
type Snapshot struct {
	Version   int                 `json:"version"`
	SavedAt   time.Time           `json:"saved_at"`
	Risk      risk.Snapshot       `json:"risk"`
	Positions []position.Snapshot `json:"positions"`
}

// Store writes snapshots atomically: the JSON lands in a temp file that
// is fsynced and renamed over the live path, so a crash mid-write leaves
// the previous snapshot intact.
type Store struct {
	path string
}

// NewStore creates a store rooted in dir; the directory is created if
// missing.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, boterrors.NewPersistenceError("state", "init", fmt.Errorf("create state dir %s: %w", dir, err))
	}
	return &Store{path: filepath.Join(dir, "sentinel_state.json")}, nil
}

// Path returns the live snapshot path.
func (s *Store) Path() string { return s.path }

// Save writes the snapshot atomically.
func (s *Store) Save(snap Snapshot) error {
	snap.Version = snapshotVersion
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return boterrors.NewPersistenceError("state", "save", fmt.Errorf("marshal snapshot: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".sentinel_state-*.tmp")
	if err != nil {
		return boterrors.NewPersistenceError("state", "save", fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return boterrors.NewPersistenceError("state", "save", fmt.Errorf("write snapshot: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return boterrors.NewPersistenceError("state", "save", fmt.Errorf("sync snapshot: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return boterrors.NewPersistenceError("state", "save", fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return boterrors.NewPersistenceError("state", "save", fmt.Errorf("rename snapshot into place: %w", err))
	}
	return nil
}

// Load reads the last snapshot. A missing file is a fresh start, not an
// error: the second return value reports whether a snapshot was found.
func (s *Store) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, boterrors.NewPersistenceError("state", "load", fmt.Errorf("read snapshot: %w", err))
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, boterrors.NewPersistenceError("state", "load", fmt.Errorf("decode snapshot: %w", err))
	}
	if snap.Version != snapshotVersion {
		return Snapshot{}, false, boterrors.NewBotError(boterrors.ErrorCategoryPersistence, "state", "load",
			fmt.Sprintf("unsupported snapshot version %d", snap.Version))
	}
	return snap, true, nil
}
