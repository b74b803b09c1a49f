package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskbridge/backend/internal/storage/models"
)

// CursorRepository persists the per-calendar delta cursors. Persist is
// only called after a sync pass fully completes, so a failed pass
// leaves the previous cursor intact and the next pass re-fetches the
// same window.
type CursorRepository struct {
	BaseRepository
}

// NewCursorRepository creates a new sync cursor repository.
func NewCursorRepository(db *DB) *CursorRepository {
	return &CursorRepository{BaseRepository: NewBaseRepository(db)}
}

// Get retrieves the cursor for one (user, provider, calendar).
// A calendar that has never synced returns nil.
func (r *CursorRepository) Get(ctx context.Context, userID, provider, calendarID string) (*models.SyncCursor, error) {
	c := &models.SyncCursor{}
	err := r.DB().QueryRowContext(ctx, `
		SELECT user_id, provider, calendar_id, cursor, advanced_at
		FROM sync_cursors WHERE user_id = ? AND provider = ? AND calendar_id = ?
	`, userID, provider, calendarID).Scan(&c.UserID, &c.Provider, &c.CalendarID, &c.Cursor, &c.AdvancedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sync cursor: %w", err)
	}
	return c, nil
}

// Persist advances the cursor for one (user, provider, calendar).
func (r *CursorRepository) Persist(ctx context.Context, userID, provider, calendarID, cursor string) error {
	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_cursors (user_id, provider, calendar_id, cursor, advanced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider, calendar_id)
		DO UPDATE SET cursor = excluded.cursor, advanced_at = excluded.advanced_at
	`, userID, provider, calendarID, cursor, r.Now())
	if err != nil {
		return fmt.Errorf("persisting sync cursor: %w", err)
	}
	return nil
}

// Delete drops the cursor, forcing the next pass to run a full
// enumeration. Used when a connection is removed.
func (r *CursorRepository) Delete(ctx context.Context, userID, provider, calendarID string) error {
	_, err := r.DB().ExecContext(ctx, `
		DELETE FROM sync_cursors WHERE user_id = ? AND provider = ? AND calendar_id = ?
	`, userID, provider, calendarID)
	if err != nil {
		return fmt.Errorf("deleting sync cursor: %w", err)
	}
	return nil
}
