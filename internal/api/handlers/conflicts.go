package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/taskbridge/backend/internal/api/middleware"
	"github.com/taskbridge/backend/internal/provider"
	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
	syncengine "github.com/taskbridge/backend/internal/sync"
)

// ListConflicts returns a handler listing the caller's pending
// conflicts, oldest first.
func ListConflicts(conflicts *storage.ConflictRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pending, err := conflicts.ListPending(r.Context(), userID(r))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}
		if pending == nil {
			pending = []*models.SyncConflict{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(pending)
	}
}

// ResolveConflictRequest is the body accepted by the resolve endpoint.
type ResolveConflictRequest struct {
	Resolution string          `json:"resolution"`
	Merged     *provider.Event `json:"merged,omitempty"`
}

// ResolveConflict returns a handler applying a verdict to one pending
// conflict. A "merged" resolution must carry the merged event.
func ResolveConflict(manager *syncengine.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ResolveConflictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}
		switch req.Resolution {
		case models.ResolutionLocal, models.ResolutionRemote, models.ResolutionMerged:
		default:
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "resolution must be local, remote, or merged")
			return
		}

		err := manager.ResolveConflict(r.Context(), userID(r), mux.Vars(r)["id"], req.Resolution, req.Merged)
		if err != nil {
			switch {
			case strings.Contains(err.Error(), "not found"):
				middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, err.Error())
			case strings.Contains(err.Error(), "already resolved"), strings.Contains(err.Error(), "requires a merged event"):
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, err.Error())
			default:
				middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "resolved", "resolution": req.Resolution})
	}
}
