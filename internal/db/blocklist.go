package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BlockedEmail is one blocklist entry: a full address or a whole domain
type BlockedEmail struct {
	ID        string    `json:"id"`
	Pattern   string    `json:"pattern"`
	IsDomain  bool      `json:"is_domain"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AddBlockedEmail inserts a blocklist entry
func (db *DB) AddBlockedEmail(ctx context.Context, entry *BlockedEmail) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO blocked_emails (id, pattern, is_domain, reason)
		VALUES ($1, $2, $3, $4)
	`, entry.ID, entry.Pattern, entry.IsDomain, entry.Reason)
	if err != nil {
		return fmt.Errorf("failed to add blocklist entry: %w", err)
	}
	return nil
}

// RemoveBlockedEmail deletes a blocklist entry by ID
func (db *DB) RemoveBlockedEmail(ctx context.Context, entryID string) error {
	result, err := db.client.ExecContext(ctx, `
		DELETE FROM blocked_emails WHERE id = $1
	`, entryID)
	if err != nil {
		return fmt.Errorf("failed to remove blocklist entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}

// ListBlockedEmails returns all blocklist entries, newest first
func (db *DB) ListBlockedEmails(ctx context.Context) ([]*BlockedEmail, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT id, pattern, is_domain, COALESCE(reason, ''), created_at
		FROM blocked_emails
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blocklist: %w", err)
	}
	defer rows.Close()

	var entries []*BlockedEmail
	for rows.Next() {
		entry := &BlockedEmail{}
		if err := rows.Scan(&entry.ID, &entry.Pattern, &entry.IsDomain, &entry.Reason, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocklist entry: %w", err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
