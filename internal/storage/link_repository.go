package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskbridge/backend/internal/storage/models"
)

// LinkRepository provides data access for calendar links.
type LinkRepository struct {
	BaseRepository
}

// NewLinkRepository creates a new calendar link repository.
func NewLinkRepository(db *DB) *LinkRepository {
	return &LinkRepository{BaseRepository: NewBaseRepository(db)}
}

const linkColumns = `id, user_id, task_id, provider, calendar_id, remote_event_id,
	last_synced_at, remote_version, snapshot, created_at, updated_at`

// Create inserts a new link. The unique (task, provider) constraint
// enforces at most one link per task and provider.
func (r *LinkRepository) Create(ctx context.Context, l *models.CalendarLink) error {
	if l.ID == "" {
		l.ID = GenerateID()
	}
	l.CreatedAt = r.Now()
	l.UpdatedAt = l.CreatedAt

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO calendar_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		l.ID, l.UserID, l.TaskID, l.Provider, l.CalendarID, l.RemoteEventID,
		l.LastSyncedAt, l.RemoteVersion, l.Snapshot, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting calendar link: %w", err)
	}
	return nil
}

func scanLink(scan func(dest ...any) error) (*models.CalendarLink, error) {
	l := &models.CalendarLink{}
	err := scan(
		&l.ID, &l.UserID, &l.TaskID, &l.Provider, &l.CalendarID, &l.RemoteEventID,
		&l.LastSyncedAt, &l.RemoteVersion, &l.Snapshot, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// GetByTask retrieves the link for a task within one provider.
func (r *LinkRepository) GetByTask(ctx context.Context, taskID, provider string) (*models.CalendarLink, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM calendar_links WHERE task_id = ? AND provider = ?
	`, taskID, provider)
	l, err := scanLink(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar link: %w", err)
	}
	return l, nil
}

// GetByRemote retrieves the link bound to a remote event.
func (r *LinkRepository) GetByRemote(ctx context.Context, provider, calendarID, remoteEventID string) (*models.CalendarLink, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+linkColumns+` FROM calendar_links
		WHERE provider = ? AND calendar_id = ? AND remote_event_id = ?
	`, provider, calendarID, remoteEventID)
	l, err := scanLink(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying calendar link: %w", err)
	}
	return l, nil
}

// ListByCalendar retrieves all links for one (user, provider, calendar).
func (r *LinkRepository) ListByCalendar(ctx context.Context, userID, provider, calendarID string) ([]*models.CalendarLink, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+linkColumns+` FROM calendar_links
		WHERE user_id = ? AND provider = ? AND calendar_id = ?
	`, userID, provider, calendarID)
	if err != nil {
		return nil, fmt.Errorf("querying calendar links: %w", err)
	}
	defer rows.Close()

	var links []*models.CalendarLink
	for rows.Next() {
		l, err := scanLink(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// MarkReconciled records a fresh reconciliation point for the pair:
// the instant, the remote version tag, and the snapshot used as the
// merge base for later concurrent edits.
func (r *LinkRepository) MarkReconciled(ctx context.Context, id string, at time.Time, remoteVersion, snapshot string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE calendar_links SET last_synced_at = ?, remote_version = ?, snapshot = ?, updated_at = ?
		WHERE id = ?
	`, at, remoteVersion, snapshot, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating calendar link: %w", err)
	}
	return nil
}

// Delete removes a link after either side's deletion was propagated.
func (r *LinkRepository) Delete(ctx context.Context, id string) error {
	_, err := r.DB().ExecContext(ctx, "DELETE FROM calendar_links WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting calendar link: %w", err)
	}
	return nil
}
