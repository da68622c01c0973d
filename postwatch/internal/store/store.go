// Package store is the fingerprint store: durable per-account records, the
// settings blob, notification subscribers and the poll log, all in one
// SQLite database opened through dbopen.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by mutations that target a missing row.
var ErrNotFound = errors.New("store: not found")

// ErrAccountExists is returned by InsertAccount for a handle already stored.
var ErrAccountExists = errors.New("store: account already exists")

// Store wraps the postwatch database.
type Store struct {
	DB *sql.DB
	// Now stamps created_at and updated_at columns. Default: time.Now.
	Now func() time.Time
}

// NewStore creates a Store from an already-opened database connection.
// The caller applies the schema (ApplySchema or dbopen.WithSchema).
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) nowMs() int64 {
	if s.Now == nil {
		return time.Now().UnixMilli()
	}
	return s.Now().UnixMilli()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Key normalizes a handle into its primary-key form.
func Key(handle string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(handle), "@")))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
