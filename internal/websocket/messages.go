package websocket

import (
	"encoding/json"
	"time"

	"github.com/taskbridge/backend/internal/storage/models"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client event types
	TypeSyncCompleted     MessageType = "sync.completed"
	TypeSyncError         MessageType = "sync.error"
	TypeConflictDetected  MessageType = "sync.conflict_detected"
	TypeConnectionExpired MessageType = "connection.expired"
	TypeNotification      MessageType = "notification"

	// Client -> Server command types
	TypePing MessageType = "ping"

	// Server -> Client response types
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   any         `json:"payload,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// SyncCompletedPayload is the payload for sync.completed events.
type SyncCompletedPayload struct {
	Provider      string `json:"provider"`
	CalendarID    string `json:"calendar_id"`
	RemoteCreated int    `json:"remote_created"`
	RemoteUpdated int    `json:"remote_updated"`
	RemoteDeleted int    `json:"remote_deleted"`
	LocalCreated  int    `json:"local_created"`
	LocalUpdated  int    `json:"local_updated"`
	LocalDeleted  int    `json:"local_deleted"`
	Conflicts     int    `json:"conflicts"`
	Errors        int    `json:"errors"`
}

// SyncErrorPayload is the payload for sync.error events.
type SyncErrorPayload struct {
	Provider   string `json:"provider"`
	CalendarID string `json:"calendar_id"`
	Message    string `json:"message"`
}

// ConflictPayload is the payload for sync.conflict_detected events.
type ConflictPayload struct {
	Conflict models.SyncConflict `json:"conflict"`
}

// ConnectionExpiredPayload is the payload for connection.expired
// events. The client should prompt the user to reconnect the provider.
type ConnectionExpiredPayload struct {
	Provider string `json:"provider"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	OriginalType string `json:"original_type,omitempty"`
}
