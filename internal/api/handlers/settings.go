package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/taskbridge/backend/internal/api/middleware"
	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
	syncengine "github.com/taskbridge/backend/internal/sync"
)

// GetSyncSettings returns a handler reading the caller's sync
// configuration, defaults included.
func GetSyncSettings(settings *storage.SettingsRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := settings.Get(r.Context(), userID(r))
		if err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cfg)
	}
}

// UpdateSyncSettings returns a handler storing the caller's sync
// configuration and rescheduling their periodic job.
func UpdateSyncSettings(settings *storage.SettingsRepository, scheduler *syncengine.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg models.SyncConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "invalid request body")
			return
		}

		switch cfg.ConflictPolicy {
		case "", models.PolicyManual, models.PolicyLocalWins, models.PolicyRemoteWins, models.PolicyMerge:
		default:
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "unknown conflict policy")
			return
		}
		switch cfg.Direction {
		case "", models.DirectionTwoWay, models.DirectionLocalToRemote, models.DirectionRemoteToLocal:
		default:
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "unknown sync direction")
			return
		}
		if cfg.ConflictPolicy == "" {
			cfg.ConflictPolicy = models.PolicyManual
		}
		if cfg.Direction == "" {
			cfg.Direction = models.DirectionTwoWay
		}

		cfg.UserID = userID(r)
		if err := settings.Put(r.Context(), &cfg); err != nil {
			middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, err.Error())
			return
		}

		scheduler.ScheduleUser(cfg.UserID, cfg.SyncInterval(), cfg.AutoSync)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(&cfg)
	}
}
