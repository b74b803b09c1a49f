package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskbridge/backend/internal/storage/models"
)

// TaskRepository provides data access for the local task mirror.
type TaskRepository struct {
	BaseRepository
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *DB) *TaskRepository {
	return &TaskRepository{BaseRepository: NewBaseRepository(db)}
}

const taskColumns = `id, user_id, title, description, location, category,
	start_at, end_at, all_day, attendees, completed, deleted,
	last_modified, external_id, sync_provider, sync_status,
	created_at, updated_at`

// Create inserts a new task.
func (r *TaskRepository) Create(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = GenerateID()
	}
	t.CreatedAt = r.Now()
	t.UpdatedAt = t.CreatedAt
	if t.SyncStatus == "" {
		t.SyncStatus = models.TaskSyncUnsynced
	}
	if t.LastModified.IsZero() {
		t.LastModified = t.CreatedAt
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.UserID, t.Title, NullString(t.Description), NullString(t.Location), NullString(t.Category),
		NullTime(t.StartAt), NullTime(t.EndAt), t.AllDay, JoinList(t.Attendees), t.Completed, t.Deleted,
		t.LastModified, NullString(t.ExternalID), NullString(t.SyncProvider), t.SyncStatus,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	t := &models.Task{}
	var description, location, category, externalID, syncProvider sql.NullString
	var startAt, endAt sql.NullTime
	var attendees string

	err := scan(
		&t.ID, &t.UserID, &t.Title, &description, &location, &category,
		&startAt, &endAt, &t.AllDay, &attendees, &t.Completed, &t.Deleted,
		&t.LastModified, &externalID, &syncProvider, &t.SyncStatus,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Description = StringPtr(description)
	t.Location = StringPtr(location)
	t.Category = StringPtr(category)
	t.StartAt = TimePtr(startAt)
	t.EndAt = TimePtr(endAt)
	t.Attendees = SplitList(attendees)
	t.ExternalID = StringPtr(externalID)
	t.SyncProvider = StringPtr(syncProvider)
	return t, nil
}

// GetByID retrieves a task by its ID, including soft-deleted tasks.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return t, nil
}

// ListByUser retrieves all of a user's tasks, soft-deleted ones
// included so the sync engine can propagate deletions.
func (r *TaskRepository) ListByUser(ctx context.Context, userID string) ([]*models.Task, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Update rewrites all mutable task fields and bumps last_modified.
func (r *TaskRepository) Update(ctx context.Context, t *models.Task) error {
	t.UpdatedAt = r.Now()

	result, err := r.DB().ExecContext(ctx, `
		UPDATE tasks SET
			title = ?, description = ?, location = ?, category = ?,
			start_at = ?, end_at = ?, all_day = ?, attendees = ?,
			completed = ?, deleted = ?, last_modified = ?,
			external_id = ?, sync_provider = ?, sync_status = ?, updated_at = ?
		WHERE id = ?
	`,
		t.Title, NullString(t.Description), NullString(t.Location), NullString(t.Category),
		NullTime(t.StartAt), NullTime(t.EndAt), t.AllDay, JoinList(t.Attendees),
		t.Completed, t.Deleted, t.LastModified,
		NullString(t.ExternalID), NullString(t.SyncProvider), t.SyncStatus, t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	return nil
}

// UpdateSyncTracking writes only the sync-tracking fields, leaving
// last_modified untouched so bookkeeping never looks like a user edit.
func (r *TaskRepository) UpdateSyncTracking(ctx context.Context, id string, externalID, syncProvider *string, syncStatus string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE tasks SET external_id = ?, sync_provider = ?, sync_status = ?, updated_at = ?
		WHERE id = ?
	`, NullString(externalID), NullString(syncProvider), syncStatus, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating sync tracking: %w", err)
	}
	return nil
}

// Delete hard-removes a task row. The host app soft-deletes; this is
// for cleanup after a deletion has been propagated everywhere.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	_, err := r.DB().ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}
