package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryBackend_Contract(t *testing.T) {
	runBackendContract(t, func(t *testing.T) Backend {
		b := NewMemoryBackend()
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestSQLiteBackend_Contract(t *testing.T) {
	for _, driver := range []string{DriverModernc, DriverCGO} {
		t.Run(driver, func(t *testing.T) {
			runBackendContract(t, func(t *testing.T) Backend {
				return newTestSQLiteBackend(t, driver, filepath.Join(t.TempDir(), "usage.db"))
			})
		})
	}
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	rec := &UsageRecord{FeatureID: "refresh", ScopeKey: GlobalScope, Count: 1}
	if err := b.PutRecord(ctx, rec); err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}

	// Mutating the caller's value must not leak into the store.
	rec.Count = 99

	got, err := b.GetRecord(ctx, rec.Key())
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got.Count != 1 {
		t.Errorf("stored count = %d, want 1", got.Count)
	}

	got.Count = 50
	again, _ := b.GetRecord(ctx, rec.Key())
	if again.Count != 1 {
		t.Errorf("stored count after mutating returned copy = %d, want 1", again.Count)
	}
	if b.Size() != 1 {
		t.Errorf("Size() = %d, want 1", b.Size())
	}
}

func TestMemoryBackend_Closed(t *testing.T) {
	b := NewMemoryBackend()
	_ = b.Close()

	if _, err := b.GetRecord(context.Background(), NewKey("refresh", "")); err != ErrClosed {
		t.Errorf("GetRecord after Close error = %v, want ErrClosed", err)
	}
	if err := b.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping after Close error = %v, want ErrClosed", err)
	}
}

// TestSQLiteBackend_SurvivesReopen checks records persist across process restarts.
func TestSQLiteBackend_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	ctx := context.Background()

	start := time.Date(2026, 5, 1, 8, 30, 0, 123456789, time.UTC)
	first, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	err = first.PutRecord(ctx, &UsageRecord{
		FeatureID:       "refresh",
		ScopeKey:        GlobalScope,
		Count:           2,
		CooldownStartAt: &start,
		UpdatedAt:       start,
	})
	if err != nil {
		t.Fatalf("PutRecord failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	got, err := second.GetRecord(ctx, NewKey("refresh", GlobalScope))
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected record after reopen, got nil")
	}
	if got.Count != 2 {
		t.Errorf("Count = %d, want 2", got.Count)
	}
	if got.CooldownStartAt == nil || !got.CooldownStartAt.Equal(start) {
		t.Errorf("CooldownStartAt = %v, want %v (nanosecond precision)", got.CooldownStartAt, start)
	}
}

func TestSQLiteBackend_CloseIdempotent(t *testing.T) {
	b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close error = %v, want nil", err)
	}
}

func TestNewSQLiteBackendWithConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  SQLiteBackendConfig
	}{
		{name: "empty path", cfg: SQLiteBackendConfig{}},
		{name: "unknown driver", cfg: SQLiteBackendConfig{DBPath: "x.db", Driver: "postgres"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSQLiteBackendWithConfig(tt.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func newTestSQLiteBackend(t *testing.T, driver, path string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackendWithConfig(SQLiteBackendConfig{
		DBPath: path,
		Driver: driver,
	})
	if err != nil {
		t.Fatalf("failed to create sqlite backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}
