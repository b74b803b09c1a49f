package models

import (
	"time"
)

// CalendarLink binds one local task to one remote event within one
// provider+calendar. At most one non-deleted link exists per
// (task, provider). The link also remembers the last reconciled state
// of the pair: the instant both sides last agreed, the remote version
// tag seen at that point, and a snapshot of the reconciled event used
// as the merge base for concurrent edits.
type CalendarLink struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	TaskID        string    `json:"task_id"`
	Provider      string    `json:"provider"`
	CalendarID    string    `json:"calendar_id"`
	RemoteEventID string    `json:"remote_event_id"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
	RemoteVersion string    `json:"remote_version"`
	Snapshot      string    `json:"-"` // JSON of the reconciled event
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SyncCursor holds the provider-issued delta token for one
// (user, provider, calendar). Cursors only move forward: an aborted
// pass leaves the previous cursor intact.
type SyncCursor struct {
	UserID     string    `json:"user_id"`
	Provider   string    `json:"provider"`
	CalendarID string    `json:"calendar_id"`
	Cursor     string    `json:"cursor"`
	AdvancedAt time.Time `json:"advanced_at"`
}

// Conflict status constants.
const (
	ConflictPending  = "pending"
	ConflictResolved = "resolved"
)

// Conflict resolution constants (accepted by the resolve endpoint).
const (
	ResolutionLocal  = "local"
	ResolutionRemote = "remote"
	ResolutionMerged = "merged"
)

// SyncConflict records a concurrent edit awaiting manual resolution.
// LocalSnapshot and RemoteSnapshot hold the two candidate events as
// JSON; LocalSnapshot is empty when the local task was deleted while
// the remote copy was edited.
type SyncConflict struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	TaskID         string     `json:"task_id"`
	Provider       string     `json:"provider"`
	CalendarID     string     `json:"calendar_id"`
	RemoteEventID  string     `json:"remote_event_id"`
	LocalSnapshot  string     `json:"local_snapshot,omitempty"`
	RemoteSnapshot string     `json:"remote_snapshot"`
	Status         string     `json:"status"`
	Resolution     *string    `json:"resolution,omitempty"`
	DetectedAt     time.Time  `json:"detected_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Conflict resolution policy constants.
const (
	PolicyManual     = "manual"
	PolicyLocalWins  = "local-wins"
	PolicyRemoteWins = "remote-wins"
	PolicyMerge      = "merge"
)

// Sync direction constants.
const (
	DirectionLocalToRemote = "local-to-remote"
	DirectionRemoteToLocal = "remote-to-local"
	DirectionTwoWay        = "two-way"
)

// SyncConfig is the per-user synchronization configuration.
type SyncConfig struct {
	UserID           string            `json:"user_id"`
	EnabledProviders []string          `json:"enabled_providers"`
	SyncIntervalMS   int64             `json:"sync_interval_ms"`
	ConflictPolicy   string            `json:"conflict_resolution"`
	AutoSync         bool              `json:"auto_sync"`
	Direction        string            `json:"sync_direction"`
	IncludeCompleted bool              `json:"include_completed_tasks"`
	CalendarMapping  map[string]string `json:"calendar_mapping,omitempty"`
	SyncCategories   []string          `json:"sync_categories,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// SyncInterval returns the configured interval as a duration, falling
// back to fifteen minutes when unset or below the one-minute floor.
func (c *SyncConfig) SyncInterval() time.Duration {
	d := time.Duration(c.SyncIntervalMS) * time.Millisecond
	if d < time.Minute {
		return 15 * time.Minute
	}
	return d
}

// DefaultSyncConfig returns the configuration used for users that have
// never saved settings.
func DefaultSyncConfig(userID string) *SyncConfig {
	return &SyncConfig{
		UserID:           userID,
		EnabledProviders: []string{},
		SyncIntervalMS:   (15 * time.Minute).Milliseconds(),
		ConflictPolicy:   PolicyManual,
		AutoSync:         true,
		Direction:        DirectionTwoWay,
		IncludeCompleted: false,
	}
}

// SyncResult contains the outcome of one sync pass for a calendar.
type SyncResult struct {
	UserID        string         `json:"user_id"`
	Provider      string         `json:"provider"`
	CalendarID    string         `json:"calendar_id"`
	RemoteCreated int            `json:"remote_created"`
	RemoteUpdated int            `json:"remote_updated"`
	RemoteDeleted int            `json:"remote_deleted"`
	LocalCreated  int            `json:"local_created"`
	LocalUpdated  int            `json:"local_updated"`
	LocalDeleted  int            `json:"local_deleted"`
	Conflicts     []SyncConflict `json:"conflicts,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	NextCursor    string         `json:"-"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
}

// Changed reports whether the pass wrote anything on either side.
func (r *SyncResult) Changed() bool {
	return r.RemoteCreated+r.RemoteUpdated+r.RemoteDeleted+
		r.LocalCreated+r.LocalUpdated+r.LocalDeleted > 0
}
