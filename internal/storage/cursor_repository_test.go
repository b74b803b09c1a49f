package storage

import (
	"context"
	"testing"

	"github.com/taskbridge/backend/internal/storage/models"
)

func TestCursorRepository(t *testing.T) {
	repo := NewCursorRepository(newTestDB(t))
	ctx := context.Background()

	// Never-synced calendars have no cursor.
	got, err := repo.Get(ctx, "u1", "google", "cal-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil before the first pass", got)
	}

	if err := repo.Persist(ctx, "u1", "google", "cal-1", "cursor-1"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	got, _ = repo.Get(ctx, "u1", "google", "cal-1")
	if got == nil || got.Cursor != "cursor-1" {
		t.Fatalf("got = %+v", got)
	}
	if got.AdvancedAt.IsZero() {
		t.Error("AdvancedAt should be recorded")
	}

	// Persisting again advances in place.
	if err := repo.Persist(ctx, "u1", "google", "cal-1", "cursor-2"); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	got, _ = repo.Get(ctx, "u1", "google", "cal-1")
	if got.Cursor != "cursor-2" {
		t.Errorf("Cursor = %q, want cursor-2", got.Cursor)
	}

	// Cursors are scoped per (user, provider, calendar).
	if other, _ := repo.Get(ctx, "u1", "google", "cal-2"); other != nil {
		t.Error("cursor leaked across calendars")
	}
	if other, _ := repo.Get(ctx, "u2", "google", "cal-1"); other != nil {
		t.Error("cursor leaked across users")
	}
}

func TestCursorRepositoryDelete(t *testing.T) {
	repo := NewCursorRepository(newTestDB(t))
	ctx := context.Background()

	if err := repo.Persist(ctx, "u1", "google", "cal-1", "cursor-1"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, "u1", "google", "cal-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var got *models.SyncCursor
	got, _ = repo.Get(ctx, "u1", "google", "cal-1")
	if got != nil {
		t.Error("cursor should be gone, forcing a full enumeration")
	}
}
