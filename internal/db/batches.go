package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// BatchType distinguishes the two kinds of sync batches
type BatchType string

const (
	BatchTypeBackfill           BatchType = "backfill"
	BatchTypeCampaignAssignment BatchType = "campaign_assignment"
)

// SyncBatch is the persistent record of one backfill or campaign-assignment
// run. Status strings match the lifecycle the poller understands.
type SyncBatch struct {
	ID                      string     `json:"id"`
	BatchType               BatchType  `json:"batch_type"`
	Status                  string     `json:"status"`
	TargetIDs               []string   `json:"target_ids"`
	DryRun                  bool       `json:"dry_run"`
	BatchSize               int        `json:"batch_size"`
	MaxItems                int        `json:"max_items"`
	TimeLimitMs             int        `json:"time_limit_ms"`
	SyncedLeads             int        `json:"synced_leads"`
	SkippedAlreadySynced    int        `json:"skipped_already_synced"`
	SkippedDuringProcessing int        `json:"skipped_during_processing"`
	FailedLeads             int        `json:"failed_leads"`
	TotalLeads              int        `json:"total_leads"`
	ErrorMessage            *string    `json:"error_message,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	StartedAt               *time.Time `json:"started_at,omitempty"`
	CompletedAt             *time.Time `json:"completed_at,omitempty"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// CreateBatch inserts a new batch record
func (db *DB) CreateBatch(ctx context.Context, batch *SyncBatch) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO sync_batches (id, batch_type, status, target_ids, dry_run, batch_size, max_items, time_limit_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, batch.ID, batch.BatchType, batch.Status, pq.Array(batch.TargetIDs), batch.DryRun, batch.BatchSize, batch.MaxItems, batch.TimeLimitMs, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch by ID
func (db *DB) GetBatch(ctx context.Context, batchID string) (*SyncBatch, error) {
	batch := &SyncBatch{}
	var errorMessage sql.NullString
	var startedAt, completedAt sql.NullTime

	err := db.client.QueryRowContext(ctx, `
		SELECT id, batch_type, status, target_ids, dry_run, batch_size, max_items, time_limit_ms,
		       synced_leads, skipped_already_synced, skipped_during_processing,
		       failed_leads, total_leads, error_message,
		       created_at, started_at, completed_at, updated_at
		FROM sync_batches
		WHERE id = $1
	`, batchID).Scan(
		&batch.ID, &batch.BatchType, &batch.Status, pq.Array(&batch.TargetIDs),
		&batch.DryRun, &batch.BatchSize, &batch.MaxItems, &batch.TimeLimitMs,
		&batch.SyncedLeads, &batch.SkippedAlreadySynced, &batch.SkippedDuringProcessing,
		&batch.FailedLeads, &batch.TotalLeads, &errorMessage,
		&batch.CreatedAt, &startedAt, &completedAt, &batch.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("batch not found: %s", batchID)
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	if errorMessage.Valid {
		batch.ErrorMessage = &errorMessage.String
	}
	if startedAt.Valid {
		batch.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}

	return batch, nil
}

// ListBatches returns batches newest-first, optionally filtered by type,
// along with the unfiltered-page total for pagination.
func (db *DB) ListBatches(ctx context.Context, batchType string, limit, offset int) ([]*SyncBatch, int, error) {
	query := `
		SELECT id, batch_type, status, target_ids, dry_run, batch_size, max_items, time_limit_ms,
		       synced_leads, skipped_already_synced, skipped_during_processing,
		       failed_leads, total_leads, error_message,
		       created_at, started_at, completed_at, updated_at,
		       COUNT(*) OVER() AS total_count
		FROM sync_batches
	`
	args := []interface{}{}
	if batchType != "" {
		query += ` WHERE batch_type = $1`
		args = append(args, batchType)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := db.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*SyncBatch
	total := 0
	for rows.Next() {
		batch := &SyncBatch{}
		var errorMessage sql.NullString
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(
			&batch.ID, &batch.BatchType, &batch.Status, pq.Array(&batch.TargetIDs),
			&batch.DryRun, &batch.BatchSize, &batch.MaxItems, &batch.TimeLimitMs,
			&batch.SyncedLeads, &batch.SkippedAlreadySynced, &batch.SkippedDuringProcessing,
			&batch.FailedLeads, &batch.TotalLeads, &errorMessage,
			&batch.CreatedAt, &startedAt, &completedAt, &batch.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan batch: %w", err)
		}

		if errorMessage.Valid {
			batch.ErrorMessage = &errorMessage.String
		}
		if startedAt.Valid {
			batch.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			batch.CompletedAt = &completedAt.Time
		}

		batches = append(batches, batch)
	}

	return batches, total, rows.Err()
}

// UpdateBatchStatus moves a batch to a new status, stamping started_at on
// the first move to processing and completed_at on terminal states.
func (db *DB) UpdateBatchStatus(ctx context.Context, batchID, status string, errorMessage *string) error {
	now := time.Now().UTC()
	result, err := db.client.ExecContext(ctx, `
		UPDATE sync_batches
		SET status = $1,
		    error_message = $2,
		    started_at = CASE WHEN $1 = 'processing' AND started_at IS NULL THEN $3 ELSE started_at END,
		    completed_at = CASE WHEN $1 IN ('completed', 'failed', 'cancelled') THEN $3 ELSE NULL END,
		    updated_at = $3
		WHERE id = $4
	`, status, errorMessage, now, batchID)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("batch not found: %s", batchID)
	}

	return nil
}

// AddBatchCounters folds one chunk's counts into the batch record
func (db *DB) AddBatchCounters(ctx context.Context, batchID string, synced, skippedAlready, skippedDuring, failed int) error {
	_, err := db.client.ExecContext(ctx, `
		UPDATE sync_batches
		SET synced_leads = synced_leads + $1,
		    skipped_already_synced = skipped_already_synced + $2,
		    skipped_during_processing = skipped_during_processing + $3,
		    failed_leads = failed_leads + $4,
		    updated_at = NOW()
		WHERE id = $5
	`, synced, skippedAlready, skippedDuring, failed, batchID)
	if err != nil {
		return fmt.Errorf("failed to add batch counters: %w", err)
	}
	return nil
}

// SetBatchTotalLeads records the enumerated lead total once collection knows it
func (db *DB) SetBatchTotalLeads(ctx context.Context, batchID string, total int) error {
	_, err := db.client.ExecContext(ctx, `
		UPDATE sync_batches SET total_leads = $1, updated_at = NOW() WHERE id = $2
	`, total, batchID)
	if err != nil {
		return fmt.Errorf("failed to set batch total: %w", err)
	}
	return nil
}

// Cursor is the resumable position of a batch within one campaign's leads
type Cursor struct {
	BatchID    string
	CampaignID string
	NextSkip   int
	Exhausted  bool
}

// GetCursor fetches the cursor for one (batch, campaign), returning a zero
// cursor when none exists yet.
func (db *DB) GetCursor(ctx context.Context, batchID, campaignID string) (*Cursor, error) {
	cursor := &Cursor{BatchID: batchID, CampaignID: campaignID}
	err := db.client.QueryRowContext(ctx, `
		SELECT next_skip, exhausted FROM sync_cursors WHERE batch_id = $1 AND campaign_id = $2
	`, batchID, campaignID).Scan(&cursor.NextSkip, &cursor.Exhausted)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor upserts the cursor position after a page is processed
func (db *DB) SaveCursor(ctx context.Context, cursor *Cursor) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO sync_cursors (batch_id, campaign_id, next_skip, exhausted, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (batch_id, campaign_id)
		DO UPDATE SET next_skip = $3, exhausted = $4, updated_at = NOW()
	`, cursor.BatchID, cursor.CampaignID, cursor.NextSkip, cursor.Exhausted)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// FilterAlreadySynced returns the subset of emails that already have a
// synced_leads row. The executor uses this to dedup an entire page in one
// round trip.
func (db *DB) FilterAlreadySynced(ctx context.Context, emails []string) (map[string]bool, error) {
	synced := make(map[string]bool)
	if len(emails) == 0 {
		return synced, nil
	}

	rows, err := db.client.QueryContext(ctx, `
		SELECT email FROM synced_leads WHERE email = ANY($1)
	`, pq.Array(emails))
	if err != nil {
		return nil, fmt.Errorf("failed to filter synced leads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("failed to scan synced lead: %w", err)
		}
		synced[email] = true
	}

	return synced, rows.Err()
}

// MarkLeadSynced records a successful CRM write for dedup in later chunks
func (db *DB) MarkLeadSynced(ctx context.Context, email, campaignID, crmPersonID, batchID string) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO synced_leads (email, campaign_id, crm_person_id, batch_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO NOTHING
	`, email, campaignID, crmPersonID, batchID)
	if err != nil {
		return fmt.Errorf("failed to mark lead synced: %w", err)
	}
	return nil
}

// RecordFailedLead stores an item-level failure for the retry control
func (db *DB) RecordFailedLead(ctx context.Context, batchID, email, campaignID, errorMessage string) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO failed_leads (batch_id, email, campaign_id, error_message)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id, email) DO UPDATE SET error_message = $4, failed_at = NOW()
	`, batchID, email, campaignID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to record failed lead: %w", err)
	}
	return nil
}

// FailedLead is one lead that errored during a batch
type FailedLead struct {
	BatchID      string    `json:"batch_id"`
	Email        string    `json:"email"`
	CampaignID   string    `json:"campaign_id"`
	ErrorMessage string    `json:"error_message"`
	FailedAt     time.Time `json:"failed_at"`
}

// ListFailedLeads returns the failed leads of a batch, oldest first
func (db *DB) ListFailedLeads(ctx context.Context, batchID string) ([]FailedLead, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT batch_id, email, campaign_id, COALESCE(error_message, ''), failed_at
		FROM failed_leads
		WHERE batch_id = $1
		ORDER BY failed_at ASC
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed leads: %w", err)
	}
	defer rows.Close()

	var leads []FailedLead
	for rows.Next() {
		var lead FailedLead
		if err := rows.Scan(&lead.BatchID, &lead.Email, &lead.CampaignID, &lead.ErrorMessage, &lead.FailedAt); err != nil {
			return nil, fmt.Errorf("failed to scan failed lead: %w", err)
		}
		leads = append(leads, lead)
	}

	return leads, rows.Err()
}

// ClearFailedLeads removes a batch's failed leads and resets its failure
// counter; used when the retry control re-queues them.
func (db *DB) ClearFailedLeads(ctx context.Context, batchID string) error {
	queue := NewDbQueue(db.client)
	return queue.Execute(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM failed_leads WHERE batch_id = $1`, batchID); err != nil {
			return fmt.Errorf("failed to clear failed leads: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sync_batches SET failed_leads = 0, updated_at = NOW() WHERE id = $1
		`, batchID); err != nil {
			return fmt.Errorf("failed to reset failure counter: %w", err)
		}
		return nil
	})
}
