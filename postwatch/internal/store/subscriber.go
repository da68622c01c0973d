package store

import (
	"context"
	"fmt"

	"github.com/hazyhaar/postwatch/dbopen"
)

// AddSubscriber registers a delivery target. Adding an existing target is a no-op.
func (s *Store) AddSubscriber(ctx context.Context, channel, recipientID string) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT OR IGNORE INTO subscribers (channel, recipient_id, created_at) VALUES (?, ?, ?)`,
		channel, recipientID, s.nowMs())
	if err != nil {
		return fmt.Errorf("store: add subscriber: %w", err)
	}
	return nil
}

// RemoveSubscriber deletes a delivery target.
func (s *Store) RemoveSubscriber(ctx context.Context, channel, recipientID string) error {
	res, err := dbopen.Exec(ctx, s.DB,
		`DELETE FROM subscribers WHERE channel = ? AND recipient_id = ?`, channel, recipientID)
	if err != nil {
		return fmt.Errorf("store: remove subscriber: %w", err)
	}
	return requireAffected(res)
}

// ListSubscribers returns every delivery target in insertion order.
func (s *Store) ListSubscribers(ctx context.Context) ([]*Subscriber, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT channel, recipient_id, created_at FROM subscribers ORDER BY created_at, channel, recipient_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.Channel, &sub.RecipientID, &sub.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}
