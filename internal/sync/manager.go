package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/taskbridge/backend/internal/provider"
	"github.com/taskbridge/backend/internal/storage"
	"github.com/taskbridge/backend/internal/storage/models"
)

// Notifier receives sync lifecycle events for pushing to clients.
type Notifier interface {
	SyncCompleted(userID string, result *models.SyncResult)
	SyncFailed(userID, provider, calendarID string, err error)
	ConflictDetected(userID string, conflict *models.SyncConflict)
	ConnectionExpired(userID, provider string)
}

// Manager runs sync passes. One pass reconciles one (user, provider,
// calendar) tuple end to end: fetch the remote delta, diff it against
// local state, resolve divergences, push the local side, then advance
// the cursor. Each step checks for cancellation before starting.
type Manager struct {
	clients     map[string]provider.Client
	tasks       *storage.TaskRepository
	links       *storage.LinkRepository
	cursors     *storage.CursorRepository
	conflicts   *storage.ConflictRepository
	connections *storage.ConnectionRepository
	settings    *storage.SettingsRepository
	notifier    Notifier

	maxAttempts int
	backoffBase time.Duration
}

// NewManager creates a sync manager over the given provider clients
// and repositories.
func NewManager(
	clients map[string]provider.Client,
	tasks *storage.TaskRepository,
	links *storage.LinkRepository,
	cursors *storage.CursorRepository,
	conflicts *storage.ConflictRepository,
	connections *storage.ConnectionRepository,
	settings *storage.SettingsRepository,
) *Manager {
	return &Manager{
		clients:     clients,
		tasks:       tasks,
		links:       links,
		cursors:     cursors,
		conflicts:   conflicts,
		connections: connections,
		settings:    settings,
		maxAttempts: 3,
		backoffBase: time.Second,
	}
}

// SetNotifier attaches the push notifier. Optional.
func (m *Manager) SetNotifier(n Notifier) { m.notifier = n }

// Client returns the provider client registered under name, or nil.
func (m *Manager) Client(name string) provider.Client { return m.clients[name] }

type pushKind int

const (
	pushCreate pushKind = iota
	pushUpdate
	pushDelete
)

type pushOp struct {
	kind     pushKind
	task     *models.Task
	link     *models.CalendarLink
	event    *provider.Event // payload for updates; nil means map from task
	keepTask bool            // on delete, unlink instead of removing the row
}

// SyncCalendar runs one sync pass. The returned result is populated
// even on failure; the error reports what aborted the pass. The delta
// cursor advances once the remote read completed: per-item failures
// stay on the result, while an aborted pass re-fetches the same
// window next time.
func (m *Manager) SyncCalendar(ctx context.Context, userID, providerName, calendarID string) (*models.SyncResult, error) {
	client, ok := m.clients[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
	conn, err := m.connections.Get(ctx, userID, providerName)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("provider %s is not connected", providerName)
	}
	cfg, err := m.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{
		UserID:     userID,
		Provider:   providerName,
		CalendarID: calendarID,
		StartedAt:  time.Now().UTC(),
	}

	creds := provider.Credentials{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiresAt,
	}
	orig := creds
	defer func() {
		// Refreshed tokens are persisted no matter how the pass ended.
		if creds == orig {
			return
		}
		pctx := context.WithoutCancel(ctx)
		if err := m.connections.UpdateTokens(pctx, conn.ID, creds.AccessToken, creds.RefreshToken, creds.Expiry); err != nil {
			log.Printf("sync: persisting refreshed %s tokens: %v", providerName, err)
		}
	}()

	// Fetch the remote delta.
	var cursor string
	if cur, err := m.cursors.Get(ctx, userID, providerName, calendarID); err != nil {
		return nil, err
	} else if cur != nil {
		cursor = cur.Cursor
	}

	var delta *provider.Delta
	err = m.withRetry(ctx, func() error {
		d, c, err := client.FetchDelta(ctx, creds, calendarID, cursor)
		if err != nil {
			return err
		}
		delta = d
		creds = c
		return nil
	})
	if err != nil {
		return m.fail(ctx, conn, result, fmt.Errorf("fetching remote changes: %w", err))
	}
	for _, me := range delta.MappingErrors {
		result.Errors = append(result.Errors, me.Error())
	}

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, conn, result, err)
	}

	// Load local state and index both sides.
	allTasks, err := m.tasks.ListByUser(ctx, userID)
	if err != nil {
		return m.fail(ctx, conn, result, err)
	}
	links, err := m.links.ListByCalendar(ctx, userID, providerName, calendarID)
	if err != nil {
		return m.fail(ctx, conn, result, err)
	}

	taskByID := make(map[string]*models.Task, len(allTasks))
	for _, t := range allTasks {
		taskByID[t.ID] = t
	}
	remoteByID := make(map[string]provider.Event, len(delta.Events))
	for _, ev := range delta.Events {
		remoteByID[ev.ID] = ev
	}
	removed := make(map[string]bool, len(delta.RemovedIDs))
	for _, id := range delta.RemovedIDs {
		removed[id] = true
	}

	// One-way directions cannot defer or merge a concurrent edit, so
	// the policy degrades to whichever side is authoritative.
	policy := cfg.ConflictPolicy
	switch cfg.Direction {
	case models.DirectionLocalToRemote:
		policy = models.PolicyLocalWins
	case models.DirectionRemoteToLocal:
		policy = models.PolicyRemoteWins
	}

	now := time.Now().UTC()
	var pushes []pushOp
	linked := make(map[string]bool, len(links))

	// Diff linked pairs.
	for _, link := range links {
		linked[link.TaskID] = true
		task := taskByID[link.TaskID]
		remoteEv, remoteChanged := remoteByID[link.RemoteEventID]
		if remoteChanged {
			delete(remoteByID, link.RemoteEventID)
		}
		// Providers echo our own writes back through the delta. An
		// event still carrying the version tag the link recorded is
		// that echo, not a remote edit.
		if remoteChanged && remoteEv.Version != "" && remoteEv.Version == link.RemoteVersion {
			remoteChanged = false
		}
		localGone := task == nil || task.Deleted

		if removed[link.RemoteEventID] {
			if err := m.remoteDeleted(ctx, cfg, link, task, localGone, result, &pushes); err != nil {
				return m.fail(ctx, conn, result, err)
			}
			continue
		}

		if localGone {
			if err := m.localDeleted(ctx, cfg, policy, link, task, remoteChanged, remoteEv, result, &pushes); err != nil {
				return m.fail(ctx, conn, result, err)
			}
			continue
		}

		if !m.eligible(task, cfg) && cfg.Direction != models.DirectionRemoteToLocal {
			// Task fell out of the sync scope (completed, category
			// change): withdraw the remote copy but keep the task.
			pushes = append(pushes, pushOp{kind: pushDelete, task: task, link: link, keepTask: true})
			continue
		}

		localEv := TaskToEvent(task)
		base, err := decodeEvent(link.Snapshot)
		if err != nil {
			log.Printf("sync: undecodable snapshot on link %s: %v", link.ID, err)
		}
		rev := base
		if remoteChanged {
			rev = &remoteEv
		}

		out := Resolve(Classify(&localEv, rev, link.LastSyncedAt), policy, base, &localEv, rev)
		switch out.Action {
		case ActionApplyLocal:
			if cfg.Direction == models.DirectionRemoteToLocal {
				continue
			}
			ev := localEv
			pushes = append(pushes, pushOp{kind: pushUpdate, task: task, link: link, event: &ev})
		case ActionApplyRemote:
			if cfg.Direction == models.DirectionLocalToRemote {
				// The remote edit does not flow back; accept the
				// divergence and move the reconciliation point.
				if err := m.links.MarkReconciled(ctx, link.ID, now, rev.Version, encodeEvent(rev)); err != nil {
					return m.fail(ctx, conn, result, err)
				}
				continue
			}
			if err := m.applyRemote(ctx, task, rev, link, now); err != nil {
				return m.fail(ctx, conn, result, err)
			}
			result.LocalUpdated++
		case ActionMerge:
			merged := out.Merged
			patch := EventToTask(*merged)
			patch.Apply(task)
			task.SyncStatus = models.TaskSyncSynced
			if err := m.tasks.Update(ctx, task); err != nil {
				return m.fail(ctx, conn, result, err)
			}
			result.LocalUpdated++
			ev := *merged
			pushes = append(pushes, pushOp{kind: pushUpdate, task: task, link: link, event: &ev})
		case ActionDefer:
			if err := m.recordConflict(ctx, link, task, &localEv, rev, result); err != nil {
				return m.fail(ctx, conn, result, err)
			}
		}
	}

	// Remote events with no link are new on the provider side.
	if cfg.Direction != models.DirectionLocalToRemote {
		for _, ev := range delta.Events {
			rev, ok := remoteByID[ev.ID]
			if !ok {
				continue // consumed by a linked pair above
			}
			if err := m.createFromRemote(ctx, userID, providerName, calendarID, rev, now); err != nil {
				return m.fail(ctx, conn, result, err)
			}
			result.LocalCreated++
		}
	}

	// Local tasks with no link are new on our side.
	if cfg.Direction != models.DirectionRemoteToLocal {
		for _, t := range allTasks {
			if linked[t.ID] || t.Deleted || !m.eligible(t, cfg) {
				continue
			}
			if targetCalendar(t, cfg, conn.CalendarID) != calendarID {
				continue
			}
			// The task may already be linked to another calendar of
			// this provider.
			if existing, err := m.links.GetByTask(ctx, t.ID, providerName); err != nil {
				return m.fail(ctx, conn, result, err)
			} else if existing != nil {
				continue
			}
			pushes = append(pushes, pushOp{kind: pushCreate, task: t})
		}
	}

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, conn, result, err)
	}

	// Push the local side.
	for _, op := range pushes {
		if err := ctx.Err(); err != nil {
			return m.fail(ctx, conn, result, err)
		}
		if err := m.push(ctx, client, &creds, conn, calendarID, op, result, now); err != nil {
			if provider.IsAuth(err) {
				return m.fail(ctx, conn, result, err)
			}
			result.Errors = append(result.Errors, err.Error())
			if op.task != nil {
				if terr := m.tasks.UpdateSyncTracking(ctx, op.task.ID, op.task.ExternalID, op.task.SyncProvider, models.TaskSyncFailed); terr != nil {
					log.Printf("sync: marking task %s failed: %v", op.task.ID, terr)
				}
			}
		}
	}

	// The cursor tracks the remote read, which completed. Skipped
	// items and failed pushes retry through change detection on the
	// next pass, not by re-reading the window.
	if delta.NextCursor != "" {
		if err := m.cursors.Persist(ctx, userID, providerName, calendarID, delta.NextCursor); err != nil {
			return m.fail(ctx, conn, result, err)
		}
		result.NextCursor = delta.NextCursor
	}

	result.FinishedAt = time.Now().UTC()
	if m.notifier != nil {
		m.notifier.SyncCompleted(userID, result)
	}
	return result, nil
}

// remoteDeleted handles a linked pair whose remote event was removed.
func (m *Manager) remoteDeleted(ctx context.Context, cfg *models.SyncConfig, link *models.CalendarLink, task *models.Task, localGone bool, result *models.SyncResult, pushes *[]pushOp) error {
	if err := m.links.Delete(ctx, link.ID); err != nil {
		return err
	}
	switch {
	case task == nil:
		return nil
	case localGone:
		// Both sides deleted the item; drop the tombstone.
		return m.tasks.Delete(ctx, task.ID)
	case cfg.Direction == models.DirectionTwoWay && task.LastModified.After(link.LastSyncedAt):
		// Deletion raced a local edit: the edit survives and the
		// event is re-created.
		task.ExternalID, task.SyncProvider = nil, nil
		if err := m.tasks.UpdateSyncTracking(ctx, task.ID, nil, nil, models.TaskSyncPending); err != nil {
			return err
		}
		*pushes = append(*pushes, pushOp{kind: pushCreate, task: task})
		return nil
	default:
		// The task survives locally, unsynced.
		task.ExternalID, task.SyncProvider = nil, nil
		if err := m.tasks.UpdateSyncTracking(ctx, task.ID, nil, nil, models.TaskSyncUnsynced); err != nil {
			return err
		}
		result.LocalUpdated++
		return nil
	}
}

// localDeleted handles a linked pair whose local task was deleted.
func (m *Manager) localDeleted(ctx context.Context, cfg *models.SyncConfig, policy string, link *models.CalendarLink, task *models.Task, remoteChanged bool, remoteEv provider.Event, result *models.SyncResult, pushes *[]pushOp) error {
	if cfg.Direction == models.DirectionTwoWay && remoteChanged && remoteEv.LastModified.After(link.LastSyncedAt) {
		// Deletion raced a remote edit.
		switch policy {
		case models.PolicyLocalWins:
			*pushes = append(*pushes, pushOp{kind: pushDelete, task: task, link: link})
			return nil
		case models.PolicyRemoteWins, models.PolicyMerge:
			// There is nothing to merge with a deletion; the remote
			// copy is restored.
			if task == nil {
				return nil
			}
			task.Deleted = false
			if err := m.applyRemote(ctx, task, &remoteEv, link, time.Now().UTC()); err != nil {
				return err
			}
			result.LocalUpdated++
			return nil
		default:
			return m.recordConflict(ctx, link, task, nil, &remoteEv, result)
		}
	}

	if cfg.Direction == models.DirectionRemoteToLocal {
		// Local deletions do not flow out; drop the pair quietly.
		if err := m.links.Delete(ctx, link.ID); err != nil {
			return err
		}
		if task != nil {
			return m.tasks.Delete(ctx, task.ID)
		}
		return nil
	}

	*pushes = append(*pushes, pushOp{kind: pushDelete, task: task, link: link})
	return nil
}

// push performs one remote write with retry and records its local
// bookkeeping.
func (m *Manager) push(ctx context.Context, client provider.Client, creds *provider.Credentials, conn *models.Connection, calendarID string, op pushOp, result *models.SyncResult, now time.Time) error {
	switch op.kind {
	case pushCreate:
		ev := TaskToEvent(op.task)
		var created *provider.Event
		err := m.withRetry(ctx, func() error {
			c, cr, err := client.CreateEvent(ctx, *creds, calendarID, ev)
			if err != nil {
				return err
			}
			created = c
			*creds = cr
			return nil
		})
		if err != nil {
			return fmt.Errorf("creating remote event for task %s: %w", op.task.ID, err)
		}
		link := &models.CalendarLink{
			UserID:        op.task.UserID,
			TaskID:        op.task.ID,
			Provider:      client.Provider(),
			CalendarID:    calendarID,
			RemoteEventID: created.ID,
			LastSyncedAt:  now,
			RemoteVersion: created.Version,
			Snapshot:      encodeEvent(created),
		}
		if err := m.links.Create(ctx, link); err != nil {
			return err
		}
		providerName := client.Provider()
		if err := m.tasks.UpdateSyncTracking(ctx, op.task.ID, &created.ID, &providerName, models.TaskSyncSynced); err != nil {
			return err
		}
		result.RemoteCreated++

	case pushUpdate:
		ev := *op.event
		ev.ID = op.link.RemoteEventID
		var updated *provider.Event
		err := m.withRetry(ctx, func() error {
			u, cr, err := client.UpdateEvent(ctx, *creds, calendarID, ev)
			if err != nil {
				return err
			}
			updated = u
			*creds = cr
			return nil
		})
		if err != nil {
			return fmt.Errorf("updating remote event %s: %w", ev.ID, err)
		}
		if err := m.links.MarkReconciled(ctx, op.link.ID, now, updated.Version, encodeEvent(updated)); err != nil {
			return err
		}
		providerName := client.Provider()
		if err := m.tasks.UpdateSyncTracking(ctx, op.task.ID, &op.link.RemoteEventID, &providerName, models.TaskSyncSynced); err != nil {
			return err
		}
		result.RemoteUpdated++

	case pushDelete:
		err := m.withRetry(ctx, func() error {
			cr, err := client.DeleteEvent(ctx, *creds, calendarID, op.link.RemoteEventID)
			if err != nil {
				return err
			}
			*creds = cr
			return nil
		})
		if err != nil {
			return fmt.Errorf("deleting remote event %s: %w", op.link.RemoteEventID, err)
		}
		if err := m.links.Delete(ctx, op.link.ID); err != nil {
			return err
		}
		if op.task != nil {
			if op.keepTask {
				if err := m.tasks.UpdateSyncTracking(ctx, op.task.ID, nil, nil, models.TaskSyncUnsynced); err != nil {
					return err
				}
			} else if err := m.tasks.Delete(ctx, op.task.ID); err != nil {
				return err
			}
		}
		result.RemoteDeleted++
	}
	return nil
}

// applyRemote writes a remote event onto its linked task and records
// the fresh reconciliation point. The task's last-modified instant is
// taken from the event so the write never reads as a user edit.
func (m *Manager) applyRemote(ctx context.Context, task *models.Task, ev *provider.Event, link *models.CalendarLink, now time.Time) error {
	patch := EventToTask(*ev)
	patch.Apply(task)
	task.Deleted = false
	task.SyncStatus = models.TaskSyncSynced
	task.ExternalID = &link.RemoteEventID
	task.SyncProvider = &link.Provider
	if err := m.tasks.Update(ctx, task); err != nil {
		return err
	}
	return m.links.MarkReconciled(ctx, link.ID, now, ev.Version, encodeEvent(ev))
}

// createFromRemote materializes a brand-new remote event as a local
// task plus its link.
func (m *Manager) createFromRemote(ctx context.Context, userID, providerName, calendarID string, ev provider.Event, now time.Time) error {
	t := &models.Task{
		UserID:       userID,
		SyncStatus:   models.TaskSyncSynced,
		ExternalID:   &ev.ID,
		SyncProvider: &providerName,
	}
	EventToTask(ev).Apply(t)
	if err := m.tasks.Create(ctx, t); err != nil {
		return err
	}
	link := &models.CalendarLink{
		UserID:        userID,
		TaskID:        t.ID,
		Provider:      providerName,
		CalendarID:    calendarID,
		RemoteEventID: ev.ID,
		LastSyncedAt:  now,
		RemoteVersion: ev.Version,
		Snapshot:      encodeEvent(&ev),
	}
	return m.links.Create(ctx, link)
}

// recordConflict defers a concurrent edit for manual resolution.
func (m *Manager) recordConflict(ctx context.Context, link *models.CalendarLink, task *models.Task, localEv, remoteEv *provider.Event, result *models.SyncResult) error {
	c := &models.SyncConflict{
		UserID:         link.UserID,
		TaskID:         link.TaskID,
		Provider:       link.Provider,
		CalendarID:     link.CalendarID,
		RemoteEventID:  link.RemoteEventID,
		RemoteSnapshot: encodeEvent(remoteEv),
	}
	if localEv != nil {
		c.LocalSnapshot = encodeEvent(localEv)
	}
	if err := m.conflicts.Upsert(ctx, c); err != nil {
		return err
	}
	if task != nil {
		if err := m.tasks.UpdateSyncTracking(ctx, task.ID, task.ExternalID, task.SyncProvider, models.TaskSyncConflict); err != nil {
			return err
		}
	}
	result.Conflicts = append(result.Conflicts, *c)
	if m.notifier != nil {
		m.notifier.ConflictDetected(link.UserID, c)
	}
	return nil
}

// ResolveConflict applies a user's verdict on a deferred conflict and
// reconciles both sides accordingly.
func (m *Manager) ResolveConflict(ctx context.Context, userID, conflictID, resolution string, merged *provider.Event) error {
	c, err := m.conflicts.GetByID(ctx, conflictID)
	if err != nil {
		return err
	}
	if c == nil || c.UserID != userID {
		return fmt.Errorf("conflict not found: %s", conflictID)
	}
	if c.Status != models.ConflictPending {
		return fmt.Errorf("conflict %s is already resolved", conflictID)
	}

	client, ok := m.clients[c.Provider]
	if !ok {
		return fmt.Errorf("unknown provider: %s", c.Provider)
	}
	conn, err := m.connections.Get(ctx, userID, c.Provider)
	if err != nil {
		return err
	}
	if conn == nil {
		return fmt.Errorf("provider %s is not connected", c.Provider)
	}

	task, err := m.tasks.GetByID(ctx, c.TaskID)
	if err != nil {
		return err
	}
	link, err := m.links.GetByTask(ctx, c.TaskID, c.Provider)
	if err != nil {
		return err
	}

	creds := provider.Credentials{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiresAt,
	}
	orig := creds
	defer func() {
		if creds == orig {
			return
		}
		pctx := context.WithoutCancel(ctx)
		if err := m.connections.UpdateTokens(pctx, conn.ID, creds.AccessToken, creds.RefreshToken, creds.Expiry); err != nil {
			log.Printf("sync: persisting refreshed %s tokens: %v", c.Provider, err)
		}
	}()

	now := time.Now().UTC()
	switch resolution {
	case models.ResolutionLocal:
		if task == nil || task.Deleted {
			// The local deletion wins: the remote event goes.
			err := m.withRetry(ctx, func() error {
				cr, err := client.DeleteEvent(ctx, creds, c.CalendarID, c.RemoteEventID)
				if err != nil {
					return err
				}
				creds = cr
				return nil
			})
			if err != nil {
				return err
			}
			if link != nil {
				if err := m.links.Delete(ctx, link.ID); err != nil {
					return err
				}
			}
			if task != nil {
				if err := m.tasks.Delete(ctx, task.ID); err != nil {
					return err
				}
			}
		} else {
			ev := TaskToEvent(task)
			ev.ID = c.RemoteEventID
			if err := m.pushResolved(ctx, client, &creds, c, link, task, ev, now); err != nil {
				return err
			}
		}

	case models.ResolutionRemote:
		remote, err := decodeEvent(c.RemoteSnapshot)
		if err != nil {
			return fmt.Errorf("decoding remote snapshot: %w", err)
		}
		if task == nil {
			return fmt.Errorf("task %s no longer exists", c.TaskID)
		}
		if link == nil {
			link = &models.CalendarLink{
				UserID:        userID,
				TaskID:        task.ID,
				Provider:      c.Provider,
				CalendarID:    c.CalendarID,
				RemoteEventID: c.RemoteEventID,
				LastSyncedAt:  now,
				RemoteVersion: remote.Version,
				Snapshot:      c.RemoteSnapshot,
			}
			if err := m.links.Create(ctx, link); err != nil {
				return err
			}
		}
		if err := m.applyRemote(ctx, task, remote, link, now); err != nil {
			return err
		}

	case models.ResolutionMerged:
		if merged == nil {
			return errors.New("merged resolution requires a merged event")
		}
		if task == nil || task.Deleted {
			return fmt.Errorf("task %s no longer exists", c.TaskID)
		}
		ev := *merged
		ev.ID = c.RemoteEventID
		patch := EventToTask(ev)
		patch.Apply(task)
		task.SyncStatus = models.TaskSyncSynced
		if err := m.tasks.Update(ctx, task); err != nil {
			return err
		}
		if err := m.pushResolved(ctx, client, &creds, c, link, task, ev, now); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unknown resolution: %s", resolution)
	}

	return m.conflicts.MarkResolved(ctx, c.ID, resolution)
}

// pushResolved writes the winning event to the provider and records
// the reconciliation.
func (m *Manager) pushResolved(ctx context.Context, client provider.Client, creds *provider.Credentials, c *models.SyncConflict, link *models.CalendarLink, task *models.Task, ev provider.Event, now time.Time) error {
	var updated *provider.Event
	err := m.withRetry(ctx, func() error {
		u, cr, err := client.UpdateEvent(ctx, *creds, c.CalendarID, ev)
		if err != nil {
			return err
		}
		updated = u
		*creds = cr
		return nil
	})
	if err != nil {
		return err
	}
	if link != nil {
		if err := m.links.MarkReconciled(ctx, link.ID, now, updated.Version, encodeEvent(updated)); err != nil {
			return err
		}
	}
	return m.tasks.UpdateSyncTracking(ctx, task.ID, &c.RemoteEventID, &c.Provider, models.TaskSyncSynced)
}

// TestConnection verifies a provider connection by fetching the
// account identity. It reports false for any failure, expired or
// revoked tokens included, rather than returning an error; an
// authentication failure also flags the connection.
func (m *Manager) TestConnection(ctx context.Context, userID, providerName string) bool {
	client, ok := m.clients[providerName]
	if !ok {
		return false
	}
	conn, err := m.connections.Get(ctx, userID, providerName)
	if err != nil || conn == nil {
		return false
	}

	creds := provider.Credentials{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiresAt,
	}
	_, fresh, err := client.UserInfo(ctx, creds)
	if err != nil {
		log.Printf("sync: connection test for %s/%s failed: %v", userID, providerName, err)
		if provider.IsAuth(err) {
			pctx := context.WithoutCancel(ctx)
			if uerr := m.connections.UpdateStatus(pctx, conn.ID, models.ConnectionNeedsReauth); uerr != nil {
				log.Printf("sync: flagging connection %s: %v", conn.ID, uerr)
			}
			if m.notifier != nil {
				m.notifier.ConnectionExpired(userID, providerName)
			}
		}
		return false
	}

	if fresh != creds {
		if err := m.connections.UpdateTokens(ctx, conn.ID, fresh.AccessToken, fresh.RefreshToken, fresh.Expiry); err != nil {
			log.Printf("sync: persisting refreshed %s tokens: %v", providerName, err)
		}
	}
	if conn.Status != models.ConnectionActive {
		if err := m.connections.UpdateStatus(ctx, conn.ID, models.ConnectionActive); err != nil {
			log.Printf("sync: reactivating connection %s: %v", conn.ID, err)
		}
	}
	return true
}

// fail finalizes a failed pass: the error is recorded on the result,
// and an authentication failure additionally flags the connection.
func (m *Manager) fail(ctx context.Context, conn *models.Connection, result *models.SyncResult, err error) (*models.SyncResult, error) {
	result.Errors = append(result.Errors, err.Error())
	result.FinishedAt = time.Now().UTC()
	if provider.IsAuth(err) {
		pctx := context.WithoutCancel(ctx)
		if uerr := m.connections.UpdateStatus(pctx, conn.ID, models.ConnectionNeedsReauth); uerr != nil {
			log.Printf("sync: flagging connection %s: %v", conn.ID, uerr)
		}
		if m.notifier != nil {
			m.notifier.ConnectionExpired(conn.UserID, conn.Provider)
		}
	}
	if m.notifier != nil {
		m.notifier.SyncFailed(result.UserID, result.Provider, result.CalendarID, err)
	}
	return result, err
}

// withRetry runs fn, retrying transient failures with exponential
// backoff. A rate-limit hint from the provider stretches the wait.
func (m *Manager) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !provider.Retryable(err) || attempt >= m.maxAttempts-1 {
			return err
		}
		wait := m.backoffBase << attempt
		var rl *provider.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > wait {
			wait = rl.RetryAfter
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (m *Manager) eligible(t *models.Task, cfg *models.SyncConfig) bool {
	if !t.HasSchedule() {
		return false
	}
	if t.Completed && !cfg.IncludeCompleted {
		return false
	}
	return t.InCategories(cfg.SyncCategories)
}

// targetCalendar picks the calendar a task belongs on: a category
// mapping when configured, the connection default otherwise.
func targetCalendar(t *models.Task, cfg *models.SyncConfig, defaultCalendar string) string {
	if t.Category != nil {
		if id, ok := cfg.CalendarMapping[*t.Category]; ok && id != "" {
			return id
		}
	}
	return defaultCalendar
}

// calendarsFor lists the calendars a connection syncs: the default one
// plus every mapped calendar.
func calendarsFor(cfg *models.SyncConfig, conn *models.Connection) []string {
	out := []string{conn.CalendarID}
	seen := map[string]bool{conn.CalendarID: true}
	for _, id := range cfg.CalendarMapping {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func providerEnabled(cfg *models.SyncConfig, name string) bool {
	if len(cfg.EnabledProviders) == 0 {
		return true
	}
	for _, p := range cfg.EnabledProviders {
		if p == name {
			return true
		}
	}
	return false
}

func encodeEvent(ev *provider.Event) string {
	buf, err := json.Marshal(ev)
	if err != nil {
		return ""
	}
	return string(buf)
}

func decodeEvent(s string) (*provider.Event, error) {
	if s == "" {
		return nil, nil
	}
	ev := &provider.Event{}
	if err := json.Unmarshal([]byte(s), ev); err != nil {
		return nil, err
	}
	return ev, nil
}
