package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_values (
		device_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (device_id, key)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by its ID.
func (s *SQLiteStore) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	query := `SELECT device_id, last_seen_at, created_at, updated_at FROM devices WHERE device_id = ?`

	var device domain.Device
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, deviceID).Scan(&device.DeviceID, &lastSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan device row: %w", err)
	}

	device.LastSeenAt = time.Unix(lastSeen, 0)
	device.CreatedAt = time.Unix(createdAt, 0)
	device.UpdatedAt = time.Unix(updatedAt, 0)
	return &device, nil
}

// UpsertDevice creates or updates a device record.
func (s *SQLiteStore) UpsertDevice(ctx context.Context, device *domain.Device) error {
	query := `
	INSERT INTO devices (device_id, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id) DO UPDATE SET
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "upsert device", func() error {
		_, err := s.db.ExecContext(ctx, query,
			device.DeviceID, device.LastSeenAt.Unix(),
			device.CreatedAt.Unix(), device.UpdatedAt.Unix(),
		)
		return err
	})
}

// TouchDevice updates the last_seen_at timestamp for a device.
func (s *SQLiteStore) TouchDevice(ctx context.Context, deviceID string, lastSeen time.Time) error {
	query := `UPDATE devices SET last_seen_at = ?, updated_at = ? WHERE device_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), deviceID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchDevice affected 0 rows", "device_id", deviceID)
	}
	return nil
}

// GetValue reads one key of the device's namespace.
func (s *SQLiteStore) GetValue(ctx context.Context, deviceID, key string) ([]byte, error) {
	query := `SELECT value FROM device_values WHERE device_id = ? AND key = ?`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, deviceID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get value %q: %w", key, err)
	}
	return value, nil
}

// PutValue writes one key, replacing any previous value.
func (s *SQLiteStore) PutValue(ctx context.Context, deviceID, key string, value []byte) error {
	query := `
	INSERT INTO device_values (device_id, key, value, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(device_id, key) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "put value "+key, func() error {
		_, err := s.db.ExecContext(ctx, query, deviceID, key, value, time.Now().Unix())
		return err
	})
}

// DeleteValue removes one key.
func (s *SQLiteStore) DeleteValue(ctx context.Context, deviceID, key string) error {
	query := `DELETE FROM device_values WHERE device_id = ? AND key = ?`
	return s.withRetry(ctx, "delete value "+key, func() error {
		_, err := s.db.ExecContext(ctx, query, deviceID, key)
		return err
	})
}

// withRetry runs a write with exponential backoff on SQLITE_BUSY and
// "database is locked" errors.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < writeRetries; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == writeRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms, 200ms
		slog.Debug("SQLite write busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Repository = (*SQLiteStore)(nil)
