//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd

package store

import (
	"errors"
	"os"
	"syscall"

	apperrors "price-alerts/internal/errors"
)

// lockFile opens path and takes a non-blocking flock on it. The kernel drops
// the lock when the process exits, so a crashed daemon leaves nothing stale.
func lockFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, apperrors.NewStoreIOError("lock", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, lockedError(path)
		}
		return nil, apperrors.NewStoreIOError("lock", path, err)
	}
	return f, nil
}

func unlockFile(path string, f *os.File) error {
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close()
		return apperrors.NewStoreIOError("unlock", path, err)
	}
	return f.Close()
}
