package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskbridge/backend/internal/storage/models"
)

// ConnectionRepository provides data access for provider connections.
type ConnectionRepository struct {
	BaseRepository
}

// NewConnectionRepository creates a new connection repository.
func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{BaseRepository: NewBaseRepository(db)}
}

const connectionColumns = `id, user_id, provider, access_token, refresh_token,
	token_expires_at, account_email, calendar_id, status, created_at, updated_at`

// Upsert stores a connection, replacing any existing one for the same
// (user, provider). Reconnecting a provider overwrites the old tokens.
func (r *ConnectionRepository) Upsert(ctx context.Context, c *models.Connection) error {
	if c.ID == "" {
		c.ID = GenerateID()
	}
	if c.Status == "" {
		c.Status = models.ConnectionActive
	}
	c.CreatedAt = r.Now()
	c.UpdatedAt = c.CreatedAt

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			account_email = excluded.account_email,
			calendar_id = excluded.calendar_id,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		c.ID, c.UserID, c.Provider, c.AccessToken, c.RefreshToken,
		c.TokenExpiresAt, c.AccountEmail, c.CalendarID, c.Status,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

func scanConnection(scan func(dest ...any) error) (*models.Connection, error) {
	c := &models.Connection{}
	var expires sql.NullTime
	err := scan(
		&c.ID, &c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken,
		&expires, &c.AccountEmail, &c.CalendarID, &c.Status,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expires.Valid {
		c.TokenExpiresAt = expires.Time
	}
	return c, nil
}

// Get retrieves the connection for one (user, provider).
func (r *ConnectionRepository) Get(ctx context.Context, userID, provider string) (*models.Connection, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+connectionColumns+` FROM connections WHERE user_id = ? AND provider = ?
	`, userID, provider)
	c, err := scanConnection(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying connection: %w", err)
	}
	return c, nil
}

// ListByUser retrieves all of a user's connections.
func (r *ConnectionRepository) ListByUser(ctx context.Context, userID string) ([]*models.Connection, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+connectionColumns+` FROM connections WHERE user_id = ? ORDER BY provider
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// ListAll retrieves every connection. Used by the scheduler to build
// its job set.
func (r *ConnectionRepository) ListAll(ctx context.Context) ([]*models.Connection, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+connectionColumns+` FROM connections ORDER BY user_id, provider
	`)
	if err != nil {
		return nil, fmt.Errorf("querying connections: %w", err)
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// UpdateTokens persists a refreshed token pair.
func (r *ConnectionRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE connections SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		WHERE id = ?
	`, accessToken, refreshToken, expiresAt, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating connection tokens: %w", err)
	}
	return nil
}

// UpdateStatus flags a connection, e.g. as needing re-authorization.
func (r *ConnectionRepository) UpdateStatus(ctx context.Context, id, status string) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE connections SET status = ?, updated_at = ? WHERE id = ?
	`, status, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating connection status: %w", err)
	}
	return nil
}

// Delete removes a connection.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.DB().ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}
