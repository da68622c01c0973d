// CLAUDE:SUMMARY Account CRUD, single-statement upsert, atomic poll write (record + log row) and reset-to-baseline.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/postwatch/dbopen"
)

const accountColumns = `handle, display_handle, last_post_id, first_observation, preferred_sources,
	consecutive_failures, total_checks, total_failures, success_rate, priority,
	last_checked_at, last_source, last_content_json, created_at, updated_at`

// InsertAccount adds a new account. It fails with ErrAccountExists when the
// handle is already tracked.
func (s *Store) InsertAccount(ctx context.Context, a *Account) error {
	prepareAccount(a, s.nowMs())
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	_, err = dbopen.Exec(ctx, s.DB,
		`INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("store: insert account: %w", err)
	}
	return nil
}

// GetAccount returns the account for handle, or nil if it is not tracked.
func (s *Store) GetAccount(ctx context.Context, handle string) (*Account, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE handle = ?`, Key(handle))
	return scanAccount(row)
}

// ListAccounts returns every tracked account ordered by handle.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts ORDER BY handle`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccountRows(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SaveAccount writes the full record in one statement (insert or replace
// every mutable column), so a reader never sees a half-updated account.
func (s *Store) SaveAccount(ctx context.Context, a *Account) error {
	return upsertAccount(ctx, dbExecer{s.DB}, a, s.nowMs())
}

// SavePoll writes the account record and its poll-log row in one
// transaction. Either both land or neither does.
func (s *Store) SavePoll(ctx context.Context, a *Account, entry *PollLogEntry) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if err := upsertAccount(ctx, tx, a, s.nowMs()); err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return insertPollLog(ctx, tx, entry)
	})
}

// DeleteAccount removes an account and its poll log.
func (s *Store) DeleteAccount(ctx context.Context, handle string) error {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM accounts WHERE handle = ?`, Key(handle))
	if err != nil {
		return fmt.Errorf("store: delete account: %w", err)
	}
	return requireAffected(res)
}

// ResetAccount returns an account to first observation. Health counters and
// cached content are cleared; the stored id stays as a provisional baseline
// and the preferred-sources override is preserved.
func (s *Store) ResetAccount(ctx context.Context, handle string) error {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE accounts SET first_observation = 1, consecutive_failures = 0,
		total_checks = 0, total_failures = 0, success_rate = 100, priority = 1.0,
		last_checked_at = NULL, last_source = '', last_content_json = '{}', updated_at = ?
		WHERE handle = ?`, s.nowMs(), Key(handle))
	if err != nil {
		return fmt.Errorf("store: reset account: %w", err)
	}
	return requireAffected(res)
}

// SetPreferredSources replaces the per-account adapter override.
// nil restores the global order; an empty slice disables polling.
func (s *Store) SetPreferredSources(ctx context.Context, handle string, sources []string) error {
	val, err := encodeSources(sources)
	if err != nil {
		return err
	}
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE accounts SET preferred_sources = ?, updated_at = ? WHERE handle = ?`,
		val, s.nowMs(), Key(handle))
	if err != nil {
		return fmt.Errorf("store: set preferred sources: %w", err)
	}
	return requireAffected(res)
}

type dbExecer struct{ db *sql.DB }

func (e dbExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return dbopen.Exec(ctx, e.db, query, args...)
}

func upsertAccount(ctx context.Context, ex execer, a *Account, now int64) error {
	prepareAccount(a, now)
	a.UpdatedAt = now
	args, err := accountArgs(a)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			display_handle = excluded.display_handle,
			last_post_id = excluded.last_post_id,
			first_observation = excluded.first_observation,
			preferred_sources = excluded.preferred_sources,
			consecutive_failures = excluded.consecutive_failures,
			total_checks = excluded.total_checks,
			total_failures = excluded.total_failures,
			success_rate = excluded.success_rate,
			priority = excluded.priority,
			last_checked_at = excluded.last_checked_at,
			last_source = excluded.last_source,
			last_content_json = excluded.last_content_json,
			updated_at = excluded.updated_at`, args...)
	if err != nil {
		return fmt.Errorf("store: save account %s: %w", a.Handle, err)
	}
	return nil
}

func prepareAccount(a *Account, now int64) {
	a.Handle = Key(a.Handle)
	if a.DisplayHandle == "" {
		a.DisplayHandle = a.Handle
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	if a.UpdatedAt == 0 {
		a.UpdatedAt = now
	}
	if a.Priority == 0 {
		a.Priority = 1.0
	}
}

func accountArgs(a *Account) ([]any, error) {
	sources, err := encodeSources(a.PreferredSources)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(a.LastContent)
	if err != nil {
		return nil, fmt.Errorf("store: encode content: %w", err)
	}
	var lastChecked any
	if a.LastCheckedAt > 0 {
		lastChecked = a.LastCheckedAt
	}
	return []any{
		a.Handle, a.DisplayHandle, a.LastPostID, a.FirstObservation, sources,
		a.ConsecutiveFailures, a.TotalChecks, a.TotalFailures, a.SuccessRate, a.Priority,
		lastChecked, a.LastSource, string(content), a.CreatedAt, a.UpdatedAt,
	}, nil
}

func encodeSources(sources []string) (any, error) {
	if sources == nil {
		return nil, nil
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("store: encode sources: %w", err)
	}
	return string(data), nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccountFrom(sc scanner) (*Account, error) {
	var (
		a           Account
		sources     sql.NullString
		lastChecked sql.NullInt64
		contentJSON string
	)
	err := sc.Scan(&a.Handle, &a.DisplayHandle, &a.LastPostID, &a.FirstObservation, &sources,
		&a.ConsecutiveFailures, &a.TotalChecks, &a.TotalFailures, &a.SuccessRate, &a.Priority,
		&lastChecked, &a.LastSource, &contentJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sources.Valid {
		a.PreferredSources = []string{}
		if err := json.Unmarshal([]byte(sources.String), &a.PreferredSources); err != nil {
			return nil, fmt.Errorf("store: decode sources for %s: %w", a.Handle, err)
		}
	}
	if lastChecked.Valid {
		a.LastCheckedAt = lastChecked.Int64
	}
	if contentJSON != "" {
		if err := json.Unmarshal([]byte(contentJSON), &a.LastContent); err != nil {
			return nil, fmt.Errorf("store: decode content for %s: %w", a.Handle, err)
		}
	}
	return &a, nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	a, err := scanAccountFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func scanAccountRows(rows *sql.Rows) (*Account, error) {
	return scanAccountFrom(rows)
}
