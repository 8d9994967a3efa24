package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// LogType classifies batch activity entries
type LogType string

const (
	LogTypeInfo    LogType = "info"
	LogTypeSuccess LogType = "success"
	LogTypeWarning LogType = "warning"
	LogTypeError   LogType = "error"
)

// ActivityEntry is one append-only event in a batch's activity log
type ActivityEntry struct {
	ID        int                    `json:"id"`
	BatchID   string                 `json:"batch_id"`
	LogType   LogType                `json:"log_type"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// AppendActivity adds an entry to a batch's activity log
func (db *DB) AppendActivity(ctx context.Context, batchID string, logType LogType, message string, metadata map[string]interface{}) error {
	var metadataJSON []byte
	if metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to serialise activity metadata: %w", err)
		}
	}

	_, err := db.client.ExecContext(ctx, `
		INSERT INTO batch_activity (batch_id, log_type, message, metadata)
		VALUES ($1, $2, $3, $4)
	`, batchID, logType, message, metadataJSON)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}

	return nil
}

// ListActivity returns a batch's activity log, oldest first
func (db *DB) ListActivity(ctx context.Context, batchID string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := db.client.QueryContext(ctx, `
		SELECT id, batch_id, log_type, message, metadata, created_at
		FROM batch_activity
		WHERE batch_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, batchID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var entry ActivityEntry
		var metadataJSON []byte
		if err := rows.Scan(&entry.ID, &entry.BatchID, &entry.LogType, &entry.Message, &metadataJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
