// CLAUDE:SUMMARY Poll log rows: insert inside the poll transaction, recent history per handle, retention pruning.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/postwatch/dbopen"
)

func insertPollLog(ctx context.Context, ex execer, e *PollLogEntry) error {
	consulted := e.Consulted
	if consulted == nil {
		consulted = []string{}
	}
	data, err := json.Marshal(consulted)
	if err != nil {
		return fmt.Errorf("store: encode consulted: %w", err)
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO poll_log (id, handle, outcome, source, post_id, consulted_json,
		stale, ambiguous, duration_ms, polled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, Key(e.Handle), e.Outcome, e.Source, e.PostID, string(data),
		e.Stale, e.Ambiguous, e.DurationMs, e.PolledAt)
	if err != nil {
		return fmt.Errorf("store: insert poll log: %w", err)
	}
	return nil
}

// RecentPolls returns the latest poll-log rows for handle, newest first.
func (s *Store) RecentPolls(ctx context.Context, handle string, limit int) ([]*PollLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, handle, outcome, source, post_id, consulted_json, stale, ambiguous,
		duration_ms, polled_at
		FROM poll_log WHERE handle = ? ORDER BY polled_at DESC, id DESC LIMIT ?`,
		Key(handle), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*PollLogEntry
	for rows.Next() {
		var (
			e         PollLogEntry
			consulted string
		)
		if err := rows.Scan(&e.ID, &e.Handle, &e.Outcome, &e.Source, &e.PostID, &consulted,
			&e.Stale, &e.Ambiguous, &e.DurationMs, &e.PolledAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(consulted), &e.Consulted); err != nil {
			return nil, fmt.Errorf("store: decode consulted: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PrunePollLog deletes rows polled before the cutoff (unix ms).
func (s *Store) PrunePollLog(ctx context.Context, before int64) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB, `DELETE FROM poll_log WHERE polled_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("store: prune poll log: %w", err)
	}
	return res.RowsAffected()
}
