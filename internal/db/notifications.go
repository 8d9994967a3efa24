package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType defines the types of notifications
type NotificationType string

const (
	NotificationBatchComplete NotificationType = "batch_complete"
	NotificationBatchFailed   NotificationType = "batch_failed"
)

// Notification represents a notification record awaiting delivery
type Notification struct {
	ID               string
	Type             NotificationType
	Subject          string
	Message          string
	Link             string
	Data             map[string]interface{}
	SlackDeliveredAt *time.Time
	CreatedAt        time.Time
}

// CreateNotification inserts a notification for later Slack delivery
func (db *DB) CreateNotification(ctx context.Context, n *Notification) error {
	var dataJSON []byte
	if n.Data != nil {
		var err error
		dataJSON, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to serialise notification data: %w", err)
		}
	}

	_, err := db.client.ExecContext(ctx, `
		INSERT INTO notifications (id, type, subject, message, link, data)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.Type, n.Subject, n.Message, n.Link, dataJSON)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

// GetPendingSlackNotifications returns undelivered notifications, oldest first
func (db *DB) GetPendingSlackNotifications(ctx context.Context, limit int) ([]*Notification, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT id, type, subject, COALESCE(message, ''), COALESCE(link, ''), data, created_at
		FROM notifications
		WHERE slack_delivered_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n := &Notification{}
		var dataJSON []byte
		if err := rows.Scan(&n.ID, &n.Type, &n.Subject, &n.Message, &n.Link, &dataJSON, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
				return nil, fmt.Errorf("failed to decode notification data: %w", err)
			}
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkSlackDelivered stamps a notification as delivered
func (db *DB) MarkSlackDelivered(ctx context.Context, notificationID string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE notifications SET slack_delivered_at = NOW() WHERE id = $1 AND slack_delivered_at IS NULL
	`, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	return nil
}
