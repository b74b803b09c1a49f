package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
	WSClients   int    `json:"ws_clients"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.Ping() == nil

		status := "healthy"
		if !dbConnected {
			status = "degraded"
		}

		response := HealthResponse{
			Status:      status,
			DBConnected: dbConnected,
		}
		if hub != nil {
			response.WSClients = hub.ClientCount()
		}

		w.Header().Set("Content-Type", "application/json")
		if status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(response)
	}
}
