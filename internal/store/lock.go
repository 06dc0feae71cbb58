package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
)

// Lock is an exclusive, advisory claim on a store. The daemon holds it for
// its whole run; one-shot commands that write the store hold it while they work.
type Lock struct {
	path string
	file *os.File
}

// LockPath returns the lock file guarding the store described by cfg. File
// backed stores lock next to their data; redis locks inside configDir.
func LockPath(cfg config.StoreConfig, configDir string) string {
	if cfg.Backend == "redis" {
		key := cfg.Redis.Key
		if key == "" {
			key = "alerts"
		}
		return filepath.Join(configDir, fmt.Sprintf("redis-%d-%s.lock", cfg.Redis.DB, key))
	}
	return cfg.Path + ".lock"
}

// AcquireLock takes the lock at path without waiting. A lock held by another
// process or handle yields an error matching errors.ErrStoreLocked.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, apperrors.NewStoreIOError("lock", path, err)
	}
	f, err := lockFile(path)
	if err != nil {
		return nil, err
	}
	_ = f.Truncate(0)
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	return &Lock{path: path, file: f}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Release gives the lock up. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.path, l.file)
	l.file = nil
	return err
}

func lockedError(path string) error {
	return &apperrors.StoreError{Op: "lock", Path: path, Kind: apperrors.ErrStoreLocked}
}
