// Package models contains the domain models for the application.
package models

import (
	"time"
)

// Task sync status constants.
const (
	TaskSyncUnsynced = "unsynced"
	TaskSyncPending  = "pending"
	TaskSyncSynced   = "synced"
	TaskSyncConflict = "conflict"
	TaskSyncFailed   = "failed"
)

// Task is the local copy of a task owned by the host task store.
// The sync engine treats it as read-only input except for the
// sync-tracking fields (ExternalID, SyncProvider, SyncStatus) and the
// fields a remote calendar edit flows back into.
type Task struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Description  *string    `json:"description,omitempty"`
	Location     *string    `json:"location,omitempty"`
	Category     *string    `json:"category,omitempty"`
	StartAt      *time.Time `json:"start_at,omitempty"`
	EndAt        *time.Time `json:"end_at,omitempty"`
	AllDay       bool       `json:"all_day"`
	Attendees    []string   `json:"attendees,omitempty"`
	Completed    bool       `json:"completed"`
	Deleted      bool       `json:"deleted"`
	LastModified time.Time  `json:"last_modified"`

	// Sync tracking.
	ExternalID   *string `json:"external_id,omitempty"`
	SyncProvider *string `json:"sync_provider,omitempty"`
	SyncStatus   string  `json:"sync_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSchedule reports whether the task carries a due/reminder time and
// is therefore eligible to appear on a calendar.
func (t *Task) HasSchedule() bool {
	return t.StartAt != nil
}

// InCategories reports whether the task's category is in the allow-list.
// An empty allow-list admits every task.
func (t *Task) InCategories(allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	if t.Category == nil {
		return false
	}
	for _, c := range allowed {
		if c == *t.Category {
			return true
		}
	}
	return false
}
