package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskbridge/backend/internal/storage/models"
)

// ConflictRepository provides data access for deferred sync conflicts.
type ConflictRepository struct {
	BaseRepository
}

// NewConflictRepository creates a new conflict repository.
func NewConflictRepository(db *DB) *ConflictRepository {
	return &ConflictRepository{BaseRepository: NewBaseRepository(db)}
}

const conflictColumns = `id, user_id, task_id, provider, calendar_id, remote_event_id,
	local_snapshot, remote_snapshot, status, resolution, detected_at, resolved_at`

// Upsert records a pending conflict for a task, replacing any earlier
// pending conflict for the same task+provider: a later sync pass
// supersedes whatever the previous one saw.
func (r *ConflictRepository) Upsert(ctx context.Context, c *models.SyncConflict) error {
	return r.Transaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM sync_conflicts
			WHERE task_id = ? AND provider = ? AND status = ?
		`, c.TaskID, c.Provider, models.ConflictPending)
		if err != nil {
			return fmt.Errorf("clearing superseded conflict: %w", err)
		}

		if c.ID == "" {
			c.ID = GenerateID()
		}
		c.Status = models.ConflictPending
		c.DetectedAt = r.Now()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sync_conflicts (`+conflictColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			c.ID, c.UserID, c.TaskID, c.Provider, c.CalendarID, c.RemoteEventID,
			c.LocalSnapshot, c.RemoteSnapshot, c.Status, NullString(c.Resolution),
			c.DetectedAt, NullTime(c.ResolvedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting conflict: %w", err)
		}
		return nil
	})
}

func scanConflict(scan func(dest ...any) error) (*models.SyncConflict, error) {
	c := &models.SyncConflict{}
	var resolution sql.NullString
	var resolvedAt sql.NullTime

	err := scan(
		&c.ID, &c.UserID, &c.TaskID, &c.Provider, &c.CalendarID, &c.RemoteEventID,
		&c.LocalSnapshot, &c.RemoteSnapshot, &c.Status, &resolution,
		&c.DetectedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Resolution = StringPtr(resolution)
	c.ResolvedAt = TimePtr(resolvedAt)
	return c, nil
}

// GetByID retrieves one conflict.
func (r *ConflictRepository) GetByID(ctx context.Context, id string) (*models.SyncConflict, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = ?`, id)
	c, err := scanConflict(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying conflict: %w", err)
	}
	return c, nil
}

// ListPending retrieves a user's unresolved conflicts, oldest first.
func (r *ConflictRepository) ListPending(ctx context.Context, userID string) ([]*models.SyncConflict, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+conflictColumns+` FROM sync_conflicts
		WHERE user_id = ? AND status = ?
		ORDER BY detected_at
	`, userID, models.ConflictPending)
	if err != nil {
		return nil, fmt.Errorf("querying conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning conflict: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

// MarkResolved records the resolution applied to a conflict.
func (r *ConflictRepository) MarkResolved(ctx context.Context, id, resolution string) error {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE sync_conflicts SET status = ?, resolution = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, models.ConflictResolved, resolution, r.Now(), id, models.ConflictPending)
	if err != nil {
		return fmt.Errorf("resolving conflict: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("pending conflict not found: %s", id)
	}
	return nil
}
