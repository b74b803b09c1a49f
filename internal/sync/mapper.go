// Package sync implements the two-way reconciliation engine between
// the local task store and the connected calendar providers: mapping,
// conflict classification and resolution, the per-calendar sync pass,
// and the scheduler that drives it.
package sync

import (
	"time"

	"github.com/taskbridge/backend/internal/provider"
	"github.com/taskbridge/backend/internal/storage/models"
)

// defaultEventDuration is used when a task has a due instant but no
// explicit end.
const defaultEventDuration = time.Hour

// TaskToEvent maps a local task to the provider-neutral event. Pure,
// no I/O. Round-tripped fields: title, description, location, start,
// end, all-day, attendees. Category, completion state, and provider
// decorations (color, reminders) are intentionally lossy.
func TaskToEvent(t *models.Task) provider.Event {
	ev := provider.Event{
		Title:        t.Title,
		AllDay:       t.AllDay,
		LastModified: t.LastModified,
	}
	if t.Description != nil {
		ev.Description = *t.Description
	}
	if t.Location != nil {
		ev.Location = *t.Location
	}
	if len(t.Attendees) > 0 {
		ev.Attendees = append([]string(nil), t.Attendees...)
	}

	if t.StartAt != nil {
		ev.Start = *t.StartAt
		if t.EndAt != nil {
			ev.End = *t.EndAt
		} else {
			ev.End = ev.Start.Add(defaultEventDuration)
		}
	}

	if t.AllDay {
		// All-day events use date-only boundaries with an exclusive end.
		ev.Start = truncateToDate(ev.Start)
		end := truncateToDate(ev.End)
		if !end.After(ev.Start) {
			end = ev.Start.AddDate(0, 0, 1)
		}
		ev.End = end
	}

	return ev
}

// TaskPatch is the partial task produced by mapping a remote event
// back. Nil fields were absent on the remote side and must be left
// untouched on merge, so remote events never clobber local-only data.
type TaskPatch struct {
	Title        *string
	Description  *string
	Location     *string
	StartAt      *time.Time
	EndAt        *time.Time
	AllDay       *bool
	Attendees    []string
	LastModified *time.Time
}

// EventToTask maps a provider-neutral event to a partial task. Pure,
// no I/O. Inverse of TaskToEvent for every round-tripped field.
func EventToTask(ev provider.Event) TaskPatch {
	p := TaskPatch{
		Title:  ptr(ev.Title),
		AllDay: ptr(ev.AllDay),
	}
	if ev.Description != "" {
		p.Description = ptr(ev.Description)
	}
	if ev.Location != "" {
		p.Location = ptr(ev.Location)
	}
	if !ev.Start.IsZero() {
		p.StartAt = ptr(ev.Start)
	}
	if !ev.End.IsZero() {
		p.EndAt = ptr(ev.End)
	}
	if len(ev.Attendees) > 0 {
		p.Attendees = append([]string(nil), ev.Attendees...)
	}
	if !ev.LastModified.IsZero() {
		p.LastModified = ptr(ev.LastModified)
	}
	return p
}

// Apply writes the patch's present fields onto the task.
func (p TaskPatch) Apply(t *models.Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = p.Description
	}
	if p.Location != nil {
		t.Location = p.Location
	}
	if p.StartAt != nil {
		t.StartAt = p.StartAt
	}
	if p.EndAt != nil {
		t.EndAt = p.EndAt
	}
	if p.AllDay != nil {
		t.AllDay = *p.AllDay
	}
	if p.Attendees != nil {
		t.Attendees = p.Attendees
	}
	if p.LastModified != nil {
		t.LastModified = *p.LastModified
	}
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}
