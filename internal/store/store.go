// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/assist-engine/internal/domain"
)

// ErrNotFound is returned by GetValue when the key has never been written.
var ErrNotFound = errors.New("store: value not found")

// Repository defines the interface for persisting device state.
type Repository interface {
	// GetDevice retrieves a device by its ID. It returns nil, nil when absent.
	GetDevice(ctx context.Context, deviceID string) (*domain.Device, error)

	// UpsertDevice creates or updates a device record.
	UpsertDevice(ctx context.Context, device *domain.Device) error

	// TouchDevice updates the last_seen_at timestamp for a device.
	TouchDevice(ctx context.Context, deviceID string, lastSeen time.Time) error

	// GetValue reads one key of the device's key/value namespace.
	GetValue(ctx context.Context, deviceID, key string) ([]byte, error)

	// PutValue writes one key, replacing any previous value.
	PutValue(ctx context.Context, deviceID, key string, value []byte) error

	// DeleteValue removes one key. Deleting a missing key is not an error.
	DeleteValue(ctx context.Context, deviceID, key string) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
