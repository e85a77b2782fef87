package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/quotawatch/internal/config"
	"github.com/goodtune/quotawatch/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		Key:          "quotawatch:test",
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestStore_LoadEmpty(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Load(context.Background())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	hit := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reset := hit.Add(5 * time.Hour)

	record := storage.Record{
		ContactTarget:    "+15550001111",
		LimitHitAt:       &hit,
		ResetAt:          &reset,
		NotificationSent: true,
		SessionPct:       96.5,
	}

	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := mr.HGet("quotawatch:test", "notification_sent"); got != "true" {
		t.Fatalf("expected notification_sent field true, got %q", got)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ContactTarget != record.ContactTarget {
		t.Errorf("expected target %q, got %q", record.ContactTarget, got.ContactTarget)
	}
	if got.LimitHitAt == nil || !got.LimitHitAt.Equal(hit) {
		t.Errorf("expected limit_hit_at %v, got %v", hit, got.LimitHitAt)
	}
	if got.ResetAt == nil || !got.ResetAt.Equal(reset) {
		t.Errorf("expected reset_at %v, got %v", reset, got.ResetAt)
	}
	if !got.NotificationSent {
		t.Error("expected notification_sent true")
	}
	if got.SessionPct != 96.5 {
		t.Errorf("expected session pct 96.5, got %v", got.SessionPct)
	}
	if got.SessionResetAt != nil {
		t.Errorf("expected no session reset, got %v", got.SessionResetAt)
	}
}

func TestStore_SaveClearsOmittedFields(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	reset := time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)

	if err := store.Save(ctx, storage.Record{ResetAt: &reset}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, storage.Record{ContactTarget: "someone"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if mr.HGet("quotawatch:test", "reset_at") != "" {
		t.Fatal("expected reset_at field removed")
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.ResetAt != nil {
		t.Fatalf("expected nil reset_at, got %v", got.ResetAt)
	}
}

func TestStore_LoadRejectsMalformedField(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	mr.HSet("quotawatch:test", "reset_at", "yesterday")

	if _, err := store.Load(context.Background()); err == nil {
		t.Fatal("expected parse error for malformed reset_at")
	}
}
