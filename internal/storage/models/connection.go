package models

import (
	"time"
)

// Connection status constants.
const (
	ConnectionActive      = "active"
	ConnectionNeedsReauth = "needs_reauth"
)

// Connection stores a user's OAuth link to one calendar provider,
// including the token pair and the remote calendar that local tasks
// sync against. Tokens are never serialized into API responses.
type Connection struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	AccessToken    string    `json:"-"`
	RefreshToken   string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	AccountEmail   string    `json:"account_email,omitempty"`
	CalendarID     string    `json:"calendar_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
