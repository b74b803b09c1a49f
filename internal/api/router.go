// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"github.com/gorilla/mux"
	"github.com/taskbridge/backend/internal/api/handlers"
	"github.com/taskbridge/backend/internal/api/middleware"
	"github.com/taskbridge/backend/internal/storage"
	syncengine "github.com/taskbridge/backend/internal/sync"
	"github.com/taskbridge/backend/internal/websocket"
)

// Repositories bundles the storage layer for route construction.
type Repositories struct {
	Tasks       *storage.TaskRepository
	Links       *storage.LinkRepository
	Cursors     *storage.CursorRepository
	Conflicts   *storage.ConflictRepository
	Connections *storage.ConnectionRepository
	Settings    *storage.SettingsRepository
}

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(
	db *storage.DB,
	repos Repositories,
	manager *syncengine.Manager,
	scheduler *syncengine.Scheduler,
	hub *websocket.Hub,
) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging)
	r.Use(middleware.ErrorRecovery)

	// API subrouter
	api := r.PathPrefix("/api").Subrouter()

	// Health endpoint
	api.HandleFunc("/health", handlers.HealthCheck(db, hub)).Methods("GET")

	// WebSocket endpoint
	api.HandleFunc("/ws", handlers.WebSocketUpgrade(hub)).Methods("GET")

	// Task endpoints
	api.HandleFunc("/tasks", handlers.ListTasks(repos.Tasks)).Methods("GET")
	api.HandleFunc("/tasks", handlers.CreateTask(repos.Tasks)).Methods("POST")
	api.HandleFunc("/tasks/{id}", handlers.UpdateTask(repos.Tasks)).Methods("PUT")
	api.HandleFunc("/tasks/{id}", handlers.DeleteTask(repos.Tasks)).Methods("DELETE")

	// Sync endpoints
	api.HandleFunc("/sync", handlers.TriggerSyncAll(scheduler)).Methods("POST")
	api.HandleFunc("/sync/status", handlers.SyncStatus(scheduler)).Methods("GET")
	api.HandleFunc("/sync/{calendarId}", handlers.TriggerSyncCalendar(scheduler, repos.Connections)).Methods("POST")

	// Conflict endpoints
	api.HandleFunc("/conflicts", handlers.ListConflicts(repos.Conflicts)).Methods("GET")
	api.HandleFunc("/conflicts/{id}/resolve", handlers.ResolveConflict(manager)).Methods("POST")

	// Connection and OAuth endpoints
	api.HandleFunc("/connections", handlers.ListConnections(repos.Connections)).Methods("GET")
	api.HandleFunc("/connections/{provider}/test", handlers.TestConnection(manager)).Methods("POST")
	api.HandleFunc("/connections/{provider}", handlers.DeleteConnection(repos.Connections, repos.Links, repos.Cursors, repos.Tasks)).Methods("DELETE")
	api.HandleFunc("/connect/{provider}", handlers.BeginOAuth(manager)).Methods("GET")
	api.HandleFunc("/connect/{provider}/callback", handlers.OAuthCallback(manager, repos.Connections, scheduler, repos.Settings)).Methods("GET")

	// Settings endpoints
	api.HandleFunc("/settings/sync", handlers.GetSyncSettings(repos.Settings)).Methods("GET")
	api.HandleFunc("/settings/sync", handlers.UpdateSyncSettings(repos.Settings, scheduler)).Methods("PUT")

	return r
}
