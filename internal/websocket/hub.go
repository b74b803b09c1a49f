// Package websocket provides WebSocket connection management and
// per-user push of sync events.
package websocket

import (
	"log"
	"sync"
)

// Hub maintains the set of active WebSocket clients and routes
// messages to them. Sync events are per-user, so delivery is keyed by
// the user a client authenticated as.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Outbound messages with their target user ("" means everyone)
	outbound chan targeted

	mu sync.RWMutex
}

type targeted struct {
	userID string
	data   []byte
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan targeted, 256),
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Printf("WebSocket client connected for user %s (total: %d)", client.userID, h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected (total: %d)", h.ClientCount())

		case msg := <-h.outbound:
			h.mu.Lock()
			for client := range h.clients {
				if msg.userID != "" && client.userID != msg.userID {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					// Client send buffer full, close connection
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends a message to every connected client.
func (h *Hub) Broadcast(message []byte) {
	h.enqueue(targeted{data: message})
}

// SendToUser sends a message to every client of one user.
func (h *Hub) SendToUser(userID string, message []byte) {
	h.enqueue(targeted{userID: userID, data: message})
}

func (h *Hub) enqueue(msg targeted) {
	select {
	case h.outbound <- msg:
	default:
		log.Println("WebSocket outbound channel full, dropping message")
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client represents a WebSocket client connection bound to one user.
type Client struct {
	hub    *Hub
	userID string
	send   chan []byte
}

// NewClient creates a new WebSocket client for a user.
func NewClient(hub *Hub, userID string) *Client {
	return &Client{
		hub:    hub,
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}

// UserID returns the user this client authenticated as.
func (c *Client) UserID() string {
	return c.userID
}
