package storage

import (
	"context"
	"testing"
	"time"

	"github.com/taskbridge/backend/internal/storage/models"
)

func TestTaskRepositoryRoundTrip(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	desc := "quarterly review"
	cat := "work"
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	task := &models.Task{
		UserID:      "u1",
		Title:       "Planning",
		Description: &desc,
		Category:    &cat,
		StartAt:     &start,
		EndAt:       &end,
		Attendees:   []string{"a@example.com", "b@example.com"},
	}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("Create should assign an ID")
	}
	if task.SyncStatus != models.TaskSyncUnsynced {
		t.Errorf("SyncStatus = %q, want unsynced default", task.SyncStatus)
	}
	if task.LastModified.IsZero() {
		t.Error("Create should default LastModified")
	}

	got, err := repo.GetByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Title != "Planning" || *got.Description != desc || *got.Category != cat {
		t.Errorf("got = %+v", got)
	}
	if got.StartAt == nil || !got.StartAt.Equal(start) {
		t.Errorf("StartAt = %v, want %v", got.StartAt, start)
	}
	if len(got.Attendees) != 2 {
		t.Errorf("Attendees = %v", got.Attendees)
	}
}

func TestTaskRepositoryGetMissing(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	got, err := repo.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil for a missing task", got)
	}
}

func TestTaskRepositoryListIncludesSoftDeleted(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	live := &models.Task{UserID: "u1", Title: "Live"}
	gone := &models.Task{UserID: "u1", Title: "Gone", Deleted: true}
	other := &models.Task{UserID: "u2", Title: "Other"}
	for _, task := range []*models.Task{live, gone, other} {
		if err := repo.Create(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	tasks, err := repo.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	// Tombstones stay visible until their deletion is propagated.
	if len(tasks) != 2 {
		t.Errorf("tasks = %d, want 2 including the tombstone", len(tasks))
	}
}

func TestTaskRepositoryUpdateSyncTrackingKeepsLastModified(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	task := &models.Task{UserID: "u1", Title: "Tracked"}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatal(err)
	}

	extID := "ev-1"
	prov := "google"
	if err := repo.UpdateSyncTracking(ctx, task.ID, &extID, &prov, models.TaskSyncSynced); err != nil {
		t.Fatalf("UpdateSyncTracking: %v", err)
	}

	got, _ := repo.GetByID(ctx, task.ID)
	if got.ExternalID == nil || *got.ExternalID != extID {
		t.Errorf("ExternalID = %v", got.ExternalID)
	}
	if got.SyncStatus != models.TaskSyncSynced {
		t.Errorf("SyncStatus = %q", got.SyncStatus)
	}
	if !got.LastModified.Equal(task.LastModified) {
		t.Error("sync bookkeeping must not move LastModified")
	}

	// Clearing tracking writes NULLs back.
	if err := repo.UpdateSyncTracking(ctx, task.ID, nil, nil, models.TaskSyncUnsynced); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetByID(ctx, task.ID)
	if got.ExternalID != nil || got.SyncProvider != nil {
		t.Errorf("tracking = %v/%v, want cleared", got.ExternalID, got.SyncProvider)
	}
}

func TestTaskRepositoryUpdateMissing(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	err := repo.Update(context.Background(), &models.Task{ID: "nope", Title: "x"})
	if err == nil {
		t.Error("updating a missing task should fail")
	}
}

func TestTaskRepositoryDelete(t *testing.T) {
	repo := NewTaskRepository(newTestDB(t))
	ctx := context.Background()

	task := &models.Task{UserID: "u1", Title: "Done"}
	if err := repo.Create(ctx, task); err != nil {
		t.Fatal(err)
	}
	if err := repo.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := repo.GetByID(ctx, task.ID); got != nil {
		t.Error("row should be gone")
	}
}
