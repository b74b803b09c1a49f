package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
)

func newTaskRouter(t *testing.T) (*mux.Router, *storage.TaskRepository) {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.RunMigrations(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	tasks := storage.NewTaskRepository(db)

	r := mux.NewRouter()
	r.HandleFunc("/api/tasks", ListTasks(tasks)).Methods("GET")
	r.HandleFunc("/api/tasks", CreateTask(tasks)).Methods("POST")
	r.HandleFunc("/api/tasks/{id}", UpdateTask(tasks)).Methods("PUT")
	r.HandleFunc("/api/tasks/{id}", DeleteTask(tasks)).Methods("DELETE")
	return r, tasks
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateAndListTasks(t *testing.T) {
	router, _ := newTaskRouter(t)

	rec := doJSON(t, router, "POST", "/api/tasks", map[string]any{
		"title":    "Dentist",
		"start_at": "2026-06-01T09:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created models.Task
	json.NewDecoder(rec.Body).Decode(&created)
	if created.ID == "" || created.UserID != "u1" {
		t.Errorf("created = %+v", created)
	}
	if created.SyncStatus != models.TaskSyncUnsynced {
		t.Errorf("SyncStatus = %q, clients cannot preset sync state", created.SyncStatus)
	}

	rec = doJSON(t, router, "GET", "/api/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var listed []models.Task
	json.NewDecoder(rec.Body).Decode(&listed)
	if len(listed) != 1 || listed[0].Title != "Dentist" {
		t.Errorf("listed = %+v", listed)
	}
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	router, _ := newTaskRouter(t)
	rec := doJSON(t, router, "POST", "/api/tasks", map[string]any{"title": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestUpdateTaskBumpsLastModified(t *testing.T) {
	router, tasks := newTaskRouter(t)

	task := &models.Task{UserID: "u1", Title: "Old", LastModified: time.Now().Add(-time.Hour)}
	if err := tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	ext := "ev-1"
	task.ExternalID = &ext
	task.SyncStatus = models.TaskSyncSynced
	if err := tasks.Update(context.Background(), task); err != nil {
		t.Fatal(err)
	}
	before := task.LastModified

	rec := doJSON(t, router, "PUT", "/api/tasks/"+task.ID, map[string]any{"title": "New"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	got, _ := tasks.GetByID(context.Background(), task.ID)
	if got.Title != "New" {
		t.Errorf("Title = %q", got.Title)
	}
	if !got.LastModified.After(before) {
		t.Error("an edit must advance LastModified")
	}
	if got.SyncStatus != models.TaskSyncPending {
		t.Errorf("SyncStatus = %q, a synced task becomes pending on edit", got.SyncStatus)
	}
}

func TestUpdateTaskScopedToOwner(t *testing.T) {
	router, tasks := newTaskRouter(t)
	task := &models.Task{UserID: "someone-else", Title: "Private"}
	if err := tasks.Create(context.Background(), task); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, router, "PUT", "/api/tasks/"+task.ID, map[string]any{"title": "Stolen"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for another user's task", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	router, tasks := newTaskRouter(t)
	ctx := context.Background()

	// Never synced: the row is dropped outright.
	unsynced := &models.Task{UserID: "u1", Title: "Scratch"}
	if err := tasks.Create(ctx, unsynced); err != nil {
		t.Fatal(err)
	}
	rec := doJSON(t, router, "DELETE", "/api/tasks/"+unsynced.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got, _ := tasks.GetByID(ctx, unsynced.ID); got != nil {
		t.Error("never-synced task should be hard-deleted")
	}

	// Synced: a tombstone stays for deletion propagation.
	synced := &models.Task{UserID: "u1", Title: "Linked"}
	if err := tasks.Create(ctx, synced); err != nil {
		t.Fatal(err)
	}
	ext := "ev-1"
	synced.ExternalID = &ext
	synced.SyncStatus = models.TaskSyncSynced
	if err := tasks.Update(ctx, synced); err != nil {
		t.Fatal(err)
	}

	rec = doJSON(t, router, "DELETE", "/api/tasks/"+synced.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	got, _ := tasks.GetByID(ctx, synced.ID)
	if got == nil || !got.Deleted {
		t.Fatalf("got = %+v, want a tombstone", got)
	}
	if got.SyncStatus != models.TaskSyncPending {
		t.Errorf("SyncStatus = %q, tombstone should be pending", got.SyncStatus)
	}

	// Tombstones are hidden from listings.
	rec = doJSON(t, router, "GET", "/api/tasks", nil)
	if strings.Contains(rec.Body.String(), "Linked") {
		t.Error("soft-deleted task leaked into the listing")
	}
}
