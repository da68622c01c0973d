package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/postwatch/dbopen"
)

const settingsKey = "global"

// LoadSettings returns the stored settings blob, or nil if none was saved.
func (s *Store) LoadSettings(ctx context.Context) (*Settings, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value_json FROM settings WHERE key = ?`, settingsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load settings: %w", err)
	}
	var st Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("store: decode settings: %w", err)
	}
	return &st, nil
}

// SaveSettings replaces the settings blob.
func (s *Store) SaveSettings(ctx context.Context, st *Settings) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	_, err = dbopen.Exec(ctx, s.DB,
		`INSERT INTO settings (key, value_json, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_json = excluded.value_json, updated_at = excluded.updated_at`,
		settingsKey, string(data), s.nowMs())
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}
