// Package contextstore keeps the durable, single-slot record of the last
// suggested action and the append-only log of resolution insights.
package contextstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/store"
)

// Storage keys inside the device namespace.
const (
	KeyNavigationContext = "navigation_context"
	KeyInsights          = "navigation_insights"
)

// KV is the slice of store.Repository the context store needs.
type KV interface {
	GetValue(ctx context.Context, deviceID, key string) ([]byte, error)
	PutValue(ctx context.Context, deviceID, key string, value []byte) error
	DeleteValue(ctx context.Context, deviceID, key string) error
}

// Store is the context store of one device. Writes are last-write-wins and
// reads are snapshots; there is no locking across mounts.
type Store struct {
	kv       KV
	deviceID string
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp contexts and insights.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger used for degraded reads and writes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store for deviceID.
func New(kv KV, deviceID string, opts ...Option) (*Store, error) {
	if kv == nil {
		return nil, errors.New("contextstore: kv must not be nil")
	}
	if deviceID == "" {
		return nil, errors.New("contextstore: device id must not be empty")
	}
	s := &Store{
		kv:       kv,
		deviceID: deviceID,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetNavigationContext replaces any existing context with a new pending one
// stamped with the current time.
func (s *Store) SetNavigationContext(ctx context.Context, tab, reason string) error {
	nc := domain.NavigationContext{
		LastNavigationTab: tab,
		NavigationReason:  reason,
		Timestamp:         s.now(),
		Status:            domain.StatusPending,
	}
	data, err := json.Marshal(nc)
	if err != nil {
		return fmt.Errorf("contextstore: marshal context: %w", err)
	}
	if err := s.kv.PutValue(ctx, s.deviceID, KeyNavigationContext, data); err != nil {
		return fmt.Errorf("contextstore: write context: %w", err)
	}
	return nil
}

// GetContext returns the current context, or nil when none was set or the
// stored value cannot be decoded. Stale contexts are returned verbatim.
func (s *Store) GetContext(ctx context.Context) *domain.NavigationContext {
	data, err := s.kv.GetValue(ctx, s.deviceID, KeyNavigationContext)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read navigation context", "device_id", s.deviceID, "error", err)
		}
		return nil
	}
	var nc domain.NavigationContext
	if err := json.Unmarshal(data, &nc); err != nil {
		s.logger.Warn("discarding corrupt navigation context", "device_id", s.deviceID, "error", err)
		return nil
	}
	return &nc
}

// ClearContext removes the current context unconditionally.
func (s *Store) ClearContext(ctx context.Context) {
	if err := s.kv.DeleteValue(ctx, s.deviceID, KeyNavigationContext); err != nil {
		s.logger.Error("failed to clear navigation context", "device_id", s.deviceID, "error", err)
	}
}

// SaveInsight appends one insight to the log. Failures are logged and
// swallowed. The timestamp is filled in when zero.
func (s *Store) SaveInsight(ctx context.Context, in domain.Insight) {
	if in.Timestamp.IsZero() {
		in.Timestamp = s.now()
	}
	insights := s.Insights(ctx)
	insights = append(insights, in)

	data, err := json.Marshal(insights)
	if err != nil {
		s.logger.Error("failed to encode insights", "device_id", s.deviceID, "error", err)
		return
	}
	if err := s.kv.PutValue(ctx, s.deviceID, KeyInsights, data); err != nil {
		s.logger.Error("failed to save insight", "device_id", s.deviceID, "reason", in.Reason, "error", err)
	}
}

// Insights returns the recorded insight log for export. A corrupt log is
// reported as empty and is overwritten by the next SaveInsight.
func (s *Store) Insights(ctx context.Context) []domain.Insight {
	data, err := s.kv.GetValue(ctx, s.deviceID, KeyInsights)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to read insights", "device_id", s.deviceID, "error", err)
		}
		return nil
	}
	var insights []domain.Insight
	if err := json.Unmarshal(data, &insights); err != nil {
		s.logger.Warn("discarding corrupt insight log", "device_id", s.deviceID, "error", err)
		return nil
	}
	return insights
}
