package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskbridge/backend/internal/storage/models"
)

// SettingsRepository provides data access for per-user sync settings.
type SettingsRepository struct {
	BaseRepository
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{BaseRepository: NewBaseRepository(db)}
}

// Get retrieves a user's sync configuration, falling back to defaults
// when the user has never saved settings.
func (r *SettingsRepository) Get(ctx context.Context, userID string) (*models.SyncConfig, error) {
	c := &models.SyncConfig{UserID: userID}
	var providers, categories, mapping string
	err := r.DB().QueryRowContext(ctx, `
		SELECT enabled_providers, sync_interval_ms, conflict_policy, auto_sync,
		       sync_direction, include_completed, calendar_mapping, sync_categories, updated_at
		FROM sync_settings WHERE user_id = ?
	`, userID).Scan(
		&providers, &c.SyncIntervalMS, &c.ConflictPolicy, &c.AutoSync,
		&c.Direction, &c.IncludeCompleted, &mapping, &categories, &c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return models.DefaultSyncConfig(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sync settings: %w", err)
	}

	c.EnabledProviders = SplitList(providers)
	c.SyncCategories = SplitList(categories)
	if mapping != "" {
		if err := json.Unmarshal([]byte(mapping), &c.CalendarMapping); err != nil {
			return nil, fmt.Errorf("decoding calendar mapping: %w", err)
		}
	}
	return c, nil
}

// Put stores a user's sync configuration.
func (r *SettingsRepository) Put(ctx context.Context, c *models.SyncConfig) error {
	mapping := "{}"
	if len(c.CalendarMapping) > 0 {
		buf, err := json.Marshal(c.CalendarMapping)
		if err != nil {
			return fmt.Errorf("encoding calendar mapping: %w", err)
		}
		mapping = string(buf)
	}
	c.UpdatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO sync_settings (
			user_id, enabled_providers, sync_interval_ms, conflict_policy, auto_sync,
			sync_direction, include_completed, calendar_mapping, sync_categories, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled_providers = excluded.enabled_providers,
			sync_interval_ms = excluded.sync_interval_ms,
			conflict_policy = excluded.conflict_policy,
			auto_sync = excluded.auto_sync,
			sync_direction = excluded.sync_direction,
			include_completed = excluded.include_completed,
			calendar_mapping = excluded.calendar_mapping,
			sync_categories = excluded.sync_categories,
			updated_at = excluded.updated_at
	`,
		c.UserID, JoinList(c.EnabledProviders), c.SyncIntervalMS, c.ConflictPolicy, c.AutoSync,
		c.Direction, c.IncludeCompleted, mapping, JoinList(c.SyncCategories), c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("storing sync settings: %w", err)
	}
	return nil
}
