package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"price-alerts/internal/models"
)

// SQLiteStore implements Store using SQLite. Each Save replaces the alerts
// table inside a single transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, ioFailure("open", dbPath, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ioFailure("open", dbPath, fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, ioFailure("open", dbPath, fmt.Errorf("failed to initialize schema: %w", err))
	}

	return store, nil
}

// initSchema creates the alerts table and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		owner TEXT NOT NULL,
		destination TEXT NOT NULL DEFAULT '',
		asset TEXT NOT NULL,
		quote_currency TEXT NOT NULL,
		operator TEXT NOT NULL,
		threshold REAL NOT NULL,
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		fired_at DATETIME,
		fired_price REAL NOT NULL DEFAULT 0,
		cancelled_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status);
	CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load returns all alerts in the order they were saved.
func (s *SQLiteStore) Load(ctx context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, destination, asset, quote_currency, operator, threshold,
		       status, note, created_at, fired_at, fired_price, cancelled_at
		FROM alerts ORDER BY seq ASC
	`)
	if err != nil {
		return nil, ioFailure("load", s.path, fmt.Errorf("failed to query alerts: %w", err))
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var op, status string
		var firedAt, cancelledAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.Owner, &a.Destination, &a.Asset, &a.QuoteCurrency,
			&op, &a.Threshold, &status, &a.Note, &a.CreatedAt, &firedAt, &a.FiredPrice, &cancelledAt); err != nil {
			return nil, corrupt("load", s.path, fmt.Errorf("failed to scan alert: %w", err))
		}
		a.Operator = models.Operator(op)
		a.Status = models.AlertStatus(status)
		if firedAt.Valid {
			t := firedAt.Time
			a.FiredAt = &t
		}
		if cancelledAt.Valid {
			t := cancelledAt.Time
			a.CancelledAt = &t
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ioFailure("load", s.path, err)
	}

	if err := validateLoaded(alerts); err != nil {
		return nil, corrupt("load", s.path, err)
	}
	return alerts, nil
}

// Save replaces the alerts table with alerts in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, alerts []models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ioFailure("save", s.path, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alerts`); err != nil {
		return ioFailure("save", s.path, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alerts (id, seq, owner, destination, asset, quote_currency, operator, threshold,
		                    status, note, created_at, fired_at, fired_price, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return ioFailure("save", s.path, fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer stmt.Close()

	for i, a := range alerts {
		if _, err := stmt.ExecContext(ctx, a.ID, i, a.Owner, a.Destination, a.Asset, a.QuoteCurrency,
			string(a.Operator), a.Threshold, string(a.Status), a.Note, a.CreatedAt,
			nullTime(a.FiredAt), a.FiredPrice, nullTime(a.CancelledAt)); err != nil {
			return ioFailure("save", s.path, fmt.Errorf("failed to insert alert %s: %w", a.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return ioFailure("save", s.path, fmt.Errorf("failed to commit: %w", err))
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
