package sync

import (
	"time"

	"github.com/taskbridge/backend/internal/provider"
	"github.com/taskbridge/backend/internal/storage/models"
)

// Classification of a linked pair relative to its last reconciliation
// point.
type Classification string

const (
	ClassLocalOnly   Classification = "local-only"
	ClassRemoteOnly  Classification = "remote-only"
	ClassInSync      Classification = "in-sync"
	ClassLocalNewer  Classification = "local-newer"
	ClassRemoteNewer Classification = "remote-newer"
	ClassConcurrent  Classification = "concurrent"
)

// Classify compares the two sides of a pair against the instant they
// last agreed. A nil side means the item does not exist there. Equal
// modification timestamps never count as changes: only strictly-after
// lastSynced does, so replaying an unchanged pair stays in-sync.
func Classify(local, remote *provider.Event, lastSynced time.Time) Classification {
	switch {
	case local == nil && remote == nil:
		return ClassInSync
	case remote == nil:
		return ClassLocalOnly
	case local == nil:
		return ClassRemoteOnly
	}

	localChanged := local.LastModified.After(lastSynced)
	remoteChanged := remote.LastModified.After(lastSynced)
	switch {
	case localChanged && remoteChanged:
		return ClassConcurrent
	case localChanged:
		return ClassLocalNewer
	case remoteChanged:
		return ClassRemoteNewer
	default:
		return ClassInSync
	}
}

// Action is what a sync pass should do with a classified pair.
type Action string

const (
	ActionNone        Action = "none"
	ActionApplyLocal  Action = "apply-local"  // push local copy to remote
	ActionApplyRemote Action = "apply-remote" // write remote copy locally
	ActionMerge       Action = "merge"        // write merged copy to both sides
	ActionDefer       Action = "defer"        // record conflict, touch nothing
)

// Outcome couples the chosen action with the merged event when the
// action is ActionMerge.
type Outcome struct {
	Action Action
	Merged *provider.Event
}

// Resolve maps a classification to an action under the configured
// policy. Only concurrent edits consult the policy; one-sided changes
// always flow toward the stale side.
func Resolve(class Classification, policy string, base, local, remote *provider.Event) Outcome {
	switch class {
	case ClassLocalNewer:
		return Outcome{Action: ActionApplyLocal}
	case ClassRemoteNewer:
		return Outcome{Action: ActionApplyRemote}
	case ClassConcurrent:
		switch policy {
		case models.PolicyLocalWins:
			return Outcome{Action: ActionApplyLocal}
		case models.PolicyRemoteWins:
			return Outcome{Action: ActionApplyRemote}
		case models.PolicyMerge:
			return Outcome{Action: ActionMerge, Merged: MergeEvents(base, local, remote)}
		default:
			return Outcome{Action: ActionDefer}
		}
	default:
		return Outcome{Action: ActionNone}
	}
}

// MergeEvents performs a field-wise three-way merge of two concurrent
// edits against the last reconciled snapshot. A field changed on one
// side only takes that side's value; a field changed on both sides
// keeps the local value. With no base snapshot there is nothing to
// diff against and the local copy wins wholesale.
func MergeEvents(base, local, remote *provider.Event) *provider.Event {
	if base == nil {
		out := *local
		return &out
	}

	out := *local
	pickString := func(b, l, r string) string {
		if l == b && r != b {
			return r
		}
		return l
	}
	pickTime := func(b, l, r time.Time) time.Time {
		if l.Equal(b) && !r.Equal(b) {
			return r
		}
		return l
	}

	out.Title = pickString(base.Title, local.Title, remote.Title)
	out.Description = pickString(base.Description, local.Description, remote.Description)
	out.Location = pickString(base.Location, local.Location, remote.Location)
	out.Start = pickTime(base.Start, local.Start, remote.Start)
	out.End = pickTime(base.End, local.End, remote.End)
	if local.AllDay == base.AllDay && remote.AllDay != base.AllDay {
		out.AllDay = remote.AllDay
	}
	if equalAttendees(local.Attendees, base.Attendees) && !equalAttendees(remote.Attendees, base.Attendees) {
		out.Attendees = append([]string(nil), remote.Attendees...)
	}
	if remote.LastModified.After(out.LastModified) {
		out.LastModified = remote.LastModified
	}
	return &out
}

func equalAttendees(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
