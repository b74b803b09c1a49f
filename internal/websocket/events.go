package websocket

import (
	"log"

	"github.com/taskbridge/backend/internal/storage/models"
)

// EventBroadcaster pushes sync lifecycle events to a user's connected
// clients. It satisfies the sync engine's Notifier interface.
type EventBroadcaster struct {
	hub *Hub
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub) *EventBroadcaster {
	return &EventBroadcaster{hub: hub}
}

// SyncCompleted sends a sync.completed event.
func (b *EventBroadcaster) SyncCompleted(userID string, result *models.SyncResult) {
	payload := SyncCompletedPayload{
		Provider:      result.Provider,
		CalendarID:    result.CalendarID,
		RemoteCreated: result.RemoteCreated,
		RemoteUpdated: result.RemoteUpdated,
		RemoteDeleted: result.RemoteDeleted,
		LocalCreated:  result.LocalCreated,
		LocalUpdated:  result.LocalUpdated,
		LocalDeleted:  result.LocalDeleted,
		Conflicts:     len(result.Conflicts),
		Errors:        len(result.Errors),
	}
	b.send(userID, NewMessage(TypeSyncCompleted, payload))
}

// SyncFailed sends a sync.error event.
func (b *EventBroadcaster) SyncFailed(userID, provider, calendarID string, err error) {
	payload := SyncErrorPayload{
		Provider:   provider,
		CalendarID: calendarID,
		Message:    err.Error(),
	}
	b.send(userID, NewMessage(TypeSyncError, payload))
}

// ConflictDetected sends a sync.conflict_detected event.
func (b *EventBroadcaster) ConflictDetected(userID string, conflict *models.SyncConflict) {
	b.send(userID, NewMessage(TypeConflictDetected, ConflictPayload{Conflict: *conflict}))
}

// ConnectionExpired sends a connection.expired event.
func (b *EventBroadcaster) ConnectionExpired(userID, provider string) {
	b.send(userID, NewMessage(TypeConnectionExpired, ConnectionExpiredPayload{Provider: provider}))
}

// send serializes and delivers a message to one user's clients.
func (b *EventBroadcaster) send(userID string, msg Message) {
	data, err := msg.JSON()
	if err != nil {
		log.Printf("Error encoding WebSocket message: %v", err)
		return
	}
	b.hub.SendToUser(userID, data)
}
