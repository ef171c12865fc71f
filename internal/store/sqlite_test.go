package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/assist-engine/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "assist.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_DeviceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetDevice(ctx, "dev_1")
	if err != nil || got != nil {
		t.Fatalf("expected missing device, got %v, %v", got, err)
	}

	now := time.Unix(1_700_000_000, 0)
	if err := s.UpsertDevice(ctx, &domain.Device{DeviceID: "dev_1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("UpsertDevice failed: %v", err)
	}
	if err := s.TouchDevice(ctx, "dev_1", now.Add(time.Hour)); err != nil {
		t.Fatalf("TouchDevice failed: %v", err)
	}

	got, err = s.GetDevice(ctx, "dev_1")
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if !got.LastSeenAt.Equal(now.Add(time.Hour)) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, now.Add(time.Hour))
	}
}

func TestSQLiteStore_ValuesAreScopedAndOverwritten(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetValue(ctx, "dev_1", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.PutValue(ctx, "dev_1", "k", []byte("one")); err != nil {
		t.Fatalf("PutValue failed: %v", err)
	}
	if err := s.PutValue(ctx, "dev_1", "k", []byte("two")); err != nil {
		t.Fatalf("PutValue failed: %v", err)
	}
	if err := s.PutValue(ctx, "dev_2", "k", []byte("other")); err != nil {
		t.Fatalf("PutValue failed: %v", err)
	}

	v, err := s.GetValue(ctx, "dev_1", "k")
	if err != nil {
		t.Fatalf("GetValue failed: %v", err)
	}
	if string(v) != "two" {
		t.Errorf("value = %q, want %q", v, "two")
	}

	if err := s.DeleteValue(ctx, "dev_1", "k"); err != nil {
		t.Fatalf("DeleteValue failed: %v", err)
	}
	if err := s.DeleteValue(ctx, "dev_1", "k"); err != nil {
		t.Fatalf("second DeleteValue failed: %v", err)
	}
	if _, err := s.GetValue(ctx, "dev_1", "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if v, _ := s.GetValue(ctx, "dev_2", "k"); string(v) != "other" {
		t.Errorf("other device value = %q, want %q", v, "other")
	}
}
