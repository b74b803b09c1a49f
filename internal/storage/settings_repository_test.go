package storage

import (
	"context"
	"testing"
	"time"

	"github.com/taskbridge/backend/internal/storage/models"
)

func TestSettingsRepositoryDefaults(t *testing.T) {
	repo := NewSettingsRepository(newTestDB(t))

	cfg, err := repo.Get(context.Background(), "newcomer")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cfg.ConflictPolicy != models.PolicyManual {
		t.Errorf("ConflictPolicy = %q, want manual", cfg.ConflictPolicy)
	}
	if cfg.Direction != models.DirectionTwoWay {
		t.Errorf("Direction = %q, want two-way", cfg.Direction)
	}
	if !cfg.AutoSync {
		t.Error("AutoSync should default to on")
	}
	if cfg.SyncInterval() != 15*time.Minute {
		t.Errorf("SyncInterval = %s, want 15m", cfg.SyncInterval())
	}
	if cfg.IncludeCompleted {
		t.Error("IncludeCompleted should default to off")
	}
}

func TestSettingsRepositoryRoundTrip(t *testing.T) {
	repo := NewSettingsRepository(newTestDB(t))
	ctx := context.Background()

	cfg := &models.SyncConfig{
		UserID:           "u1",
		EnabledProviders: []string{"google"},
		SyncIntervalMS:   (5 * time.Minute).Milliseconds(),
		ConflictPolicy:   models.PolicyMerge,
		AutoSync:         false,
		Direction:        models.DirectionLocalToRemote,
		IncludeCompleted: true,
		CalendarMapping:  map[string]string{"work": "cal-work"},
		SyncCategories:   []string{"work", "errands"},
	}
	if err := repo.Put(ctx, cfg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConflictPolicy != models.PolicyMerge || got.Direction != models.DirectionLocalToRemote {
		t.Errorf("got = %+v", got)
	}
	if got.AutoSync || !got.IncludeCompleted {
		t.Errorf("flags = auto %v completed %v", got.AutoSync, got.IncludeCompleted)
	}
	if len(got.EnabledProviders) != 1 || got.EnabledProviders[0] != "google" {
		t.Errorf("EnabledProviders = %v", got.EnabledProviders)
	}
	if got.CalendarMapping["work"] != "cal-work" {
		t.Errorf("CalendarMapping = %v", got.CalendarMapping)
	}
	if len(got.SyncCategories) != 2 {
		t.Errorf("SyncCategories = %v", got.SyncCategories)
	}
	if got.SyncInterval() != 5*time.Minute {
		t.Errorf("SyncInterval = %s", got.SyncInterval())
	}

	// Put is an upsert.
	cfg.ConflictPolicy = models.PolicyLocalWins
	if err := repo.Put(ctx, cfg); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.Get(ctx, "u1")
	if got.ConflictPolicy != models.PolicyLocalWins {
		t.Errorf("ConflictPolicy = %q after update", got.ConflictPolicy)
	}
}

func TestSyncIntervalFloor(t *testing.T) {
	cfg := &models.SyncConfig{SyncIntervalMS: 100}
	if cfg.SyncInterval() != 15*time.Minute {
		t.Errorf("sub-minute intervals should fall back to 15m, got %s", cfg.SyncInterval())
	}
}
