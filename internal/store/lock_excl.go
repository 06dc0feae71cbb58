//go:build !(darwin || dragonfly || freebsd || linux || netbsd || openbsd)

package store

import (
	"errors"
	"os"

	apperrors "price-alerts/internal/errors"
)

// lockFile creates path exclusively. The file is removed on release; a
// crashed daemon leaves it behind and it must be deleted by hand.
func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, lockedError(path)
		}
		return nil, apperrors.NewStoreIOError("lock", path, err)
	}
	return f, nil
}

func unlockFile(path string, f *os.File) error {
	f.Close()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.NewStoreIOError("unlock", path, err)
	}
	return nil
}
