// Package store provides durable persistence of alert records.
package store

import (
	"context"
	"fmt"
	"math"

	"price-alerts/internal/config"
	apperrors "price-alerts/internal/errors"
	"price-alerts/internal/models"
)

// Store persists the full alert set. Save must replace the previous snapshot
// atomically: readers observe either the old or the new set, never a mix.
type Store interface {
	// Load returns every persisted alert. An unparsable snapshot yields an
	// error matching errors.ErrStoreCorrupt.
	Load(ctx context.Context) ([]models.Alert, error)
	// Save replaces the persisted set with alerts.
	Save(ctx context.Context, alerts []models.Alert) error
	// Close releases handles held by the store.
	Close() error
}

// Quarantiner is implemented by stores that can move an unreadable snapshot
// aside so that the next save does not overwrite it.
type Quarantiner interface {
	Quarantine(ctx context.Context) (string, error)
}

// Pinger is implemented by stores that can cheaply verify their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	_ Pinger      = (*JSONFileStore)(nil)
	_ Pinger      = (*SQLiteStore)(nil)
	_ Pinger      = (*RedisStore)(nil)
	_ Quarantiner = (*JSONFileStore)(nil)
)

// New builds the store selected by cfg.Backend.
func New(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "json":
		return NewJSONFileStore(cfg.Path), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "redis":
		return NewRedisStore(RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// validateLoaded rejects snapshots containing records the engine could not
// have written. A single bad record marks the whole snapshot corrupt.
func validateLoaded(alerts []models.Alert) error {
	seen := make(map[string]struct{}, len(alerts))
	for i, a := range alerts {
		if a.ID == "" {
			return fmt.Errorf("record %d has no id", i)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate id %s", a.ID)
		}
		seen[a.ID] = struct{}{}
		if !a.Status.Valid() {
			return fmt.Errorf("record %s has unknown status %q", a.ID, a.Status)
		}
		if a.Asset == "" || a.QuoteCurrency == "" {
			return fmt.Errorf("record %s has an empty pair", a.ID)
		}
		if math.IsNaN(a.Threshold) || math.IsInf(a.Threshold, 0) || a.Threshold <= 0 {
			return fmt.Errorf("record %s has invalid threshold %v", a.ID, a.Threshold)
		}
		if a.Status == models.AlertFired && a.FiredAt == nil {
			return fmt.Errorf("record %s is fired without fired_at", a.ID)
		}
	}
	return nil
}

func corrupt(op, path string, err error) error {
	return apperrors.NewStoreCorruptError(op, path, err)
}

func ioFailure(op, path string, err error) error {
	return apperrors.NewStoreIOError(op, path, err)
}
