package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BaseRepository provides common functionality for all repositories.
type BaseRepository struct {
	db *DB
}

// NewBaseRepository creates a new base repository with the given database connection.
func NewBaseRepository(db *DB) BaseRepository {
	return BaseRepository{db: db}
}

// DB returns the underlying database connection.
func (r *BaseRepository) DB() *DB {
	return r.db
}

// Now returns the current time in UTC for database timestamps.
func (r *BaseRepository) Now() time.Time {
	return time.Now().UTC()
}

// Transaction executes fn within a database transaction.
func (r *BaseRepository) Transaction(fn func(tx *sql.Tx) error) error {
	return r.db.Transaction(fn)
}

// GenerateID creates a new UUID for use as a primary key.
func GenerateID() string {
	return uuid.NewString()
}

// JoinList flattens a string slice into a single comma-separated
// column value. Empty slices store as the empty string.
func JoinList(items []string) string {
	return strings.Join(items, ",")
}

// SplitList is the inverse of JoinList; an empty column yields nil.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// NullString converts an optional string to its nullable column form.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StringPtr converts a nullable column back to an optional string.
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// NullTime converts an optional time to its nullable column form.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// TimePtr converts a nullable column back to an optional time.
func TimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
