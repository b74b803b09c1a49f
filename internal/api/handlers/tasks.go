package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/taskbridge/backend/internal/api/middleware"
	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
)

// ListTasks returns a handler listing the caller's tasks. Soft-deleted
// tasks are filtered out; they only exist for deletion propagation.
func ListTasks(tasks *storage.TaskRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := tasks.ListByUser(r.Context(), userID(r))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		visible := []*models.Task{}
		for _, t := range all {
			if !t.Deleted {
				visible = append(visible, t)
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(visible)
	}
}

// CreateTask returns a handler inserting a task for the caller.
func CreateTask(tasks *storage.TaskRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t models.Task
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}
		if t.Title == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "title is required")
			return
		}

		t.ID = ""
		t.UserID = userID(r)
		t.Deleted = false
		t.SyncStatus = models.TaskSyncUnsynced
		t.ExternalID, t.SyncProvider = nil, nil
		if err := tasks.Create(r.Context(), &t); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(&t)
	}
}

// UpdateTask returns a handler rewriting a task's user-editable fields
// and bumping its last-modified instant, which is what the sync engine
// keys local changes on.
func UpdateTask(tasks *storage.TaskRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		existing, err := tasks.GetByID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		if existing == nil || existing.Deleted || existing.UserID != userID(r) {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "task not found")
			return
		}

		var in models.Task
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}
		if in.Title == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "title is required")
			return
		}

		existing.Title = in.Title
		existing.Description = in.Description
		existing.Location = in.Location
		existing.Category = in.Category
		existing.StartAt = in.StartAt
		existing.EndAt = in.EndAt
		existing.AllDay = in.AllDay
		existing.Attendees = in.Attendees
		existing.Completed = in.Completed
		existing.LastModified = time.Now().UTC()
		if existing.SyncStatus == models.TaskSyncSynced {
			existing.SyncStatus = models.TaskSyncPending
		}

		if err := tasks.Update(r.Context(), existing); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(existing)
	}
}

// DeleteTask returns a handler soft-deleting a task. The row stays as
// a tombstone until the deletion has been propagated to the linked
// calendars.
func DeleteTask(tasks *storage.TaskRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		existing, err := tasks.GetByID(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		if existing == nil || existing.Deleted || existing.UserID != userID(r) {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "task not found")
			return
		}

		if existing.ExternalID == nil {
			// Never synced anywhere: no tombstone needed.
			if err := tasks.Delete(r.Context(), existing.ID); err != nil {
				middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		existing.Deleted = true
		existing.LastModified = time.Now().UTC()
		existing.SyncStatus = models.TaskSyncPending
		if err := tasks.Update(r.Context(), existing); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}
