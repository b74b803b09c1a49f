package storage

import (
	"context"
	"testing"

	"github.com/taskbridge/backend/internal/storage/models"
)

func newConflict(taskID string) *models.SyncConflict {
	return &models.SyncConflict{
		UserID:         "u1",
		TaskID:         taskID,
		Provider:       "google",
		CalendarID:     "cal-1",
		RemoteEventID:  "ev-" + taskID,
		LocalSnapshot:  `{"title":"local"}`,
		RemoteSnapshot: `{"title":"remote"}`,
	}
}

func TestConflictRepositoryUpsertSupersedesPending(t *testing.T) {
	repo := NewConflictRepository(newTestDB(t))
	ctx := context.Background()

	first := newConflict("task-1")
	if err := repo.Upsert(ctx, first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.Status != models.ConflictPending {
		t.Errorf("Status = %q, want pending", first.Status)
	}

	// A later pass sees fresher snapshots for the same pair; the older
	// pending conflict is replaced, not accumulated.
	second := newConflict("task-1")
	second.RemoteSnapshot = `{"title":"remote v2"}`
	if err := repo.Upsert(ctx, second); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	pending, err := repo.ListPending(ctx, "u1")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if pending[0].ID != second.ID || pending[0].RemoteSnapshot != `{"title":"remote v2"}` {
		t.Errorf("pending = %+v, want the superseding conflict", pending[0])
	}

	if stale, _ := repo.GetByID(ctx, first.ID); stale != nil {
		t.Error("superseded conflict should be removed")
	}
}

func TestConflictRepositoryMarkResolved(t *testing.T) {
	repo := NewConflictRepository(newTestDB(t))
	ctx := context.Background()

	c := newConflict("task-1")
	if err := repo.Upsert(ctx, c); err != nil {
		t.Fatal(err)
	}

	if err := repo.MarkResolved(ctx, c.ID, models.ResolutionLocal); err != nil {
		t.Fatalf("MarkResolved: %v", err)
	}

	got, _ := repo.GetByID(ctx, c.ID)
	if got.Status != models.ConflictResolved {
		t.Errorf("Status = %q", got.Status)
	}
	if got.Resolution == nil || *got.Resolution != models.ResolutionLocal {
		t.Errorf("Resolution = %v", got.Resolution)
	}
	if got.ResolvedAt == nil {
		t.Error("ResolvedAt should be set")
	}

	if pending, _ := repo.ListPending(ctx, "u1"); len(pending) != 0 {
		t.Error("resolved conflict still listed as pending")
	}

	// A second resolution finds no pending row.
	if err := repo.MarkResolved(ctx, c.ID, models.ResolutionRemote); err == nil {
		t.Error("resolving twice should fail")
	}
}

func TestConflictRepositoryResolvedSurvivesNewConflict(t *testing.T) {
	repo := NewConflictRepository(newTestDB(t))
	ctx := context.Background()

	old := newConflict("task-1")
	if err := repo.Upsert(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkResolved(ctx, old.ID, models.ResolutionLocal); err != nil {
		t.Fatal(err)
	}

	// Only pending conflicts are superseded; the resolved history stays.
	fresh := newConflict("task-1")
	if err := repo.Upsert(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	if got, _ := repo.GetByID(ctx, old.ID); got == nil {
		t.Error("resolved conflict should be kept as history")
	}
}
