package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"price-alerts/internal/models"
)

const snapshotVersion = 1

// snapshot is the on-disk document. Unknown fields are ignored on load.
type snapshot struct {
	Version int            `json:"version"`
	SavedAt time.Time      `json:"saved_at"`
	Alerts  []models.Alert `json:"alerts"`
}

// JSONFileStore keeps the alert set in a single JSON document replaced via
// write-to-temp, fsync and rename.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONFileStore creates a store backed by the file at path.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// Load reads the snapshot. A missing file is an empty set.
func (s *JSONFileStore) Load(ctx context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, ioFailure("load", s.path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, corrupt("load", s.path, err)
	}
	if snap.Version > snapshotVersion {
		return nil, corrupt("load", s.path, fmt.Errorf("unsupported snapshot version %d", snap.Version))
	}
	if err := validateLoaded(snap.Alerts); err != nil {
		return nil, corrupt("load", s.path, err)
	}

	return snap.Alerts, nil
}

// Save atomically replaces the snapshot with alerts.
func (s *JSONFileStore) Save(ctx context.Context, alerts []models.Alert) error {
	if err := ctx.Err(); err != nil {
		return ioFailure("save", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if alerts == nil {
		alerts = []models.Alert{}
	}
	data, err := json.MarshalIndent(snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now().UTC(),
		Alerts:  alerts,
	}, "", "  ")
	if err != nil {
		return ioFailure("save", s.path, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ioFailure("save", s.path, err)
	}

	if err := writeFileAtomic(dir, s.path, data); err != nil {
		return ioFailure("save", s.path, err)
	}
	return nil
}

// Ping checks that the snapshot directory exists or can be created.
func (s *JSONFileStore) Ping(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ioFailure("ping", s.path, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return ioFailure("ping", s.path, err)
	}
	if !info.IsDir() {
		return ioFailure("ping", s.path, fmt.Errorf("%s is not a directory", dir))
	}
	return nil
}

// Quarantine renames the current snapshot to <path>.corrupt-<timestamp> and
// returns the new name.
func (s *JSONFileStore) Quarantine(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().UTC().Format("20060102T150405Z"))
	if err := os.Rename(s.path, target); err != nil {
		return "", ioFailure("quarantine", s.path, err)
	}
	return target, nil
}

// Close is a no-op; the file is only open during Load and Save.
func (s *JSONFileStore) Close() error {
	return nil
}

func writeFileAtomic(dir, path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0600); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}

	// Persist the rename itself. Not every platform supports syncing a directory.
	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
