package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/taskbridge/backend/internal/api/middleware"
	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
	syncengine "github.com/taskbridge/backend/internal/sync"
)

// SyncAllResponse is the response for a full sync run.
type SyncAllResponse struct {
	Results []*models.SyncResult `json:"results"`
}

// TriggerSyncAll returns a handler that runs a sync pass for every
// connected calendar of the caller and waits for the outcome.
// Calendars already mid-pass are skipped.
func TriggerSyncAll(scheduler *syncengine.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := scheduler.SyncUser(r.Context(), userID(r))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		if results == nil {
			results = []*models.SyncResult{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SyncAllResponse{Results: results})
	}
}

// TriggerSyncCalendar returns a handler that runs one sync pass for
// one calendar. The provider is taken from the "provider" query
// parameter, or inferred from the caller's connections when omitted.
func TriggerSyncCalendar(scheduler *syncengine.Scheduler, connections *storage.ConnectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)
		calendarID := mux.Vars(r)["calendarId"]

		providerName := r.URL.Query().Get("provider")
		if providerName == "" {
			conns, err := connections.ListByUser(r.Context(), uid)
			if err != nil {
				middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
				return
			}
			for _, conn := range conns {
				if conn.CalendarID == calendarID {
					providerName = conn.Provider
					break
				}
			}
			if providerName == "" && len(conns) == 1 {
				providerName = conns[0].Provider
			}
		}
		if providerName == "" {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "cannot determine provider for calendar; pass ?provider=")
			return
		}

		result, err := scheduler.RunCalendar(r.Context(), uid, providerName, calendarID)
		if err != nil {
			// The result still carries the partial outcome.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(result)
			return
		}
		if result == nil {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "sync already running for this calendar")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// SyncStatus returns a handler reporting per-calendar sync state.
func SyncStatus(scheduler *syncengine.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		statuses := scheduler.Status(userID(r))
		if statuses == nil {
			statuses = []*syncengine.CalendarStatus{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statuses)
	}
}
