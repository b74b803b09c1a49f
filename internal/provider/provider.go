// Package provider contains the calendar provider clients and the
// provider-neutral event type they all map to and from.
package provider

import (
	"context"
	"time"
)

// Provider name constants.
const (
	Google  = "google"
	Outlook = "outlook"
)

// RefreshMargin is how close to expiry an access token may get before
// a client refreshes it ahead of an authenticated call.
const RefreshMargin = time.Minute

// Event is the provider-neutral calendar event used as the mapping
// pivot between local tasks and each provider's native schema. Version
// carries the provider's opaque version tag (etag / change key) for
// optimistic conflict checks.
type Event struct {
	ID           string    `json:"id,omitempty"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Location     string    `json:"location,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Timezone     string    `json:"timezone,omitempty"`
	AllDay       bool      `json:"all_day"`
	Attendees    []string  `json:"attendees,omitempty"`
	LastModified time.Time `json:"last_modified"`
	Version      string    `json:"version,omitempty"`
}

// Delta is the outcome of one incremental fetch. Removed events are
// reported by ID so callers can treat them as deletions rather than
// "not found". NextCursor bounds the following fetch.
type Delta struct {
	Events     []Event
	RemovedIDs []string
	NextCursor string

	// MappingErrors lists items whose payload could not be converted.
	// They are skipped; the fetch itself still succeeds.
	MappingErrors []*MappingError
}

// Credentials is the token state for one provider connection. It is
// passed into every authenticated call and returned (possibly
// refreshed) rather than mutated in place, so concurrent passes never
// share hidden token state.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ExpiresWithin reports whether the access token expires inside the
// given margin. A zero expiry means the token never expires.
func (c Credentials) ExpiresWithin(margin time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Until(c.Expiry) < margin
}

// UserInfo identifies the account behind a connection.
type UserInfo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Client is the capability interface implemented once per provider.
// The sync engine is written against this interface only.
//
// Every authenticated method accepts Credentials and returns the
// credentials that were actually used: when the access token was
// within RefreshMargin of expiry the client silently refreshes first,
// and the caller is responsible for persisting the returned pair.
// A missing refresh token surfaces as an *AuthError without any
// network call.
type Client interface {
	// Provider returns the provider name constant.
	Provider() string

	// AuthURL returns the provider authorization URL requesting
	// calendar read/write scope.
	AuthURL(state string) string

	// Exchange trades an authorization code for a token pair.
	Exchange(ctx context.Context, code string) (Credentials, error)

	// DefaultCalendar returns the identifier of the account's primary
	// calendar, used when a connection is first established.
	DefaultCalendar(ctx context.Context, creds Credentials) (string, Credentials, error)

	// FetchDelta lists changes since cursor. An empty cursor performs
	// a bounded full enumeration and returns a fresh cursor.
	FetchDelta(ctx context.Context, creds Credentials, calendarID, cursor string) (*Delta, Credentials, error)

	// CreateEvent inserts a new remote event and returns it with the
	// provider-assigned ID and version tag.
	CreateEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (*Event, Credentials, error)

	// UpdateEvent overwrites the remote event identified by ev.ID.
	UpdateEvent(ctx context.Context, creds Credentials, calendarID string, ev Event) (*Event, Credentials, error)

	// DeleteEvent removes a remote event. Deleting an event that is
	// already gone is not an error.
	DeleteEvent(ctx context.Context, creds Credentials, calendarID, eventID string) (Credentials, error)

	// UserInfo fetches the connected account's identity. Also serves
	// as the connection test.
	UserInfo(ctx context.Context, creds Credentials) (*UserInfo, Credentials, error)
}
