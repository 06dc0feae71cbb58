package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
)

func TestLockPath(t *testing.T) {
	require.Equal(t, "/data/alerts.json.lock", LockPath(config.StoreConfig{Backend: "json", Path: "/data/alerts.json"}, "/cfg"))
	require.Equal(t, "/data/alerts.db.lock", LockPath(config.StoreConfig{Backend: "sqlite", Path: "/data/alerts.db"}, "/cfg"))
	require.Equal(t, filepath.Join("/cfg", "redis-2-alerts.lock"), LockPath(config.StoreConfig{
		Backend: "redis",
		Redis:   config.RedisConfig{DB: 2},
	}, "/cfg"))
}

func TestAcquireLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alerts.json.lock")

	held, err := AcquireLock(path)
	require.NoError(t, err)
	require.Equal(t, path, held.Path())

	_, err = AcquireLock(path)
	require.ErrorIs(t, err, apperrors.ErrStoreLocked)
	require.ErrorContains(t, err, path)

	require.NoError(t, held.Release())
	require.NoError(t, held.Release())

	again, err := AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}
