package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

// BatchStatus represents the current status of a sync batch
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusCollecting BatchStatus = "collecting"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusPaused     BatchStatus = "paused"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
	BatchStatusCancelled  BatchStatus = "cancelled"
)

// IsActive reports whether a batch in this status is still being worked on
// and should keep being polled.
func (s BatchStatus) IsActive() bool {
	switch s {
	case BatchStatusPending, BatchStatusCollecting, BatchStatusProcessing, BatchStatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the batch has reached a final state.
func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusCancelled:
		return true
	}
	return false
}

// WorkOrder describes one backfill run. The same order is carried unchanged
// on every chunk request of a run; only the server-side cursor advances.
type WorkOrder struct {
	TargetIDs   []string `json:"target_ids"`
	DryRun      bool     `json:"dry_run"`
	BatchSize   int      `json:"batch_size"`
	MaxItems    int      `json:"max_items,omitempty"`
	TimeLimitMs int      `json:"time_limit_ms"`
}

// DefaultTimeLimit is the per-chunk time budget enforced server-side.
const DefaultTimeLimit = 30 * time.Second

// Validate checks a work order before any network call is made.
func (w *WorkOrder) Validate() error {
	if len(w.TargetIDs) == 0 {
		return fmt.Errorf("work order requires at least one target ID")
	}
	if w.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", w.BatchSize)
	}
	if w.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", w.MaxItems)
	}
	if w.TimeLimitMs <= 0 {
		return fmt.Errorf("time limit must be positive, got %dms", w.TimeLimitMs)
	}
	return nil
}

// SkipBreakdown is the canonical structured form of a chunk's skip counts.
type SkipBreakdown struct {
	AlreadySynced    int `json:"already_synced"`
	DuringProcessing int `json:"during_processing"`
	Total            int `json:"total"`
}

// Add folds another breakdown into this one component-wise.
func (s *SkipBreakdown) Add(other SkipBreakdown) {
	s.AlreadySynced += other.AlreadySynced
	s.DuringProcessing += other.DuringProcessing
	s.Total += other.Total
}

// ChunkResult is one chunk executor response. Older servers report `skipped`
// as a bare number; newer ones as an object with a breakdown. Decoding
// normalises both into SkipBreakdown so nothing downstream sees the legacy
// shape.
type ChunkResult struct {
	Success        bool          `json:"success"`
	Done           bool          `json:"done"`
	Synced         int           `json:"synced"`
	Skipped        SkipBreakdown `json:"skipped"`
	Errors         int           `json:"errors"`
	Total          int           `json:"total"`
	LeadsProcessed int           `json:"leads_processed"`
	DryRun         bool          `json:"dry_run"`
	Error          string        `json:"error,omitempty"`
}

// chunkResultWire mirrors ChunkResult but leaves `skipped` raw for the
// dual-shape decode.
type chunkResultWire struct {
	Success        bool            `json:"success"`
	Done           bool            `json:"done"`
	Synced         int             `json:"synced"`
	Skipped        json.RawMessage `json:"skipped"`
	Errors         int             `json:"errors"`
	Total          int             `json:"total"`
	LeadsProcessed int             `json:"leads_processed"`
	DryRun         bool            `json:"dry_run"`
	Error          string          `json:"error,omitempty"`
}

// UnmarshalJSON decodes a chunk result, accepting both skip formats.
func (c *ChunkResult) UnmarshalJSON(data []byte) error {
	var wire chunkResultWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("failed to decode chunk result: %w", err)
	}

	c.Success = wire.Success
	c.Done = wire.Done
	c.Synced = wire.Synced
	c.Errors = wire.Errors
	c.Total = wire.Total
	c.LeadsProcessed = wire.LeadsProcessed
	c.DryRun = wire.DryRun
	c.Error = wire.Error

	skipped, err := decodeSkipped(wire.Skipped)
	if err != nil {
		return err
	}
	c.Skipped = skipped

	return nil
}

// decodeSkipped normalises the legacy numeric skip count (everything counted
// as already-synced) and the structured object into one SkipBreakdown.
func decodeSkipped(raw json.RawMessage) (SkipBreakdown, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return SkipBreakdown{}, nil
	}

	var count int
	if err := json.Unmarshal(raw, &count); err == nil {
		return SkipBreakdown{
			AlreadySynced: count,
			Total:         count,
		}, nil
	}

	var breakdown SkipBreakdown
	if err := json.Unmarshal(raw, &breakdown); err != nil {
		return SkipBreakdown{}, fmt.Errorf("unrecognised skipped format %q: %w", string(raw), err)
	}

	// Older object payloads omit total.
	if breakdown.Total == 0 {
		breakdown.Total = breakdown.AlreadySynced + breakdown.DuringProcessing
	}

	return breakdown, nil
}

// BatchSnapshot is the view of a batch returned by the status endpoint and
// consumed by the poller. The batch record itself is owned server-side.
type BatchSnapshot struct {
	ID           string      `json:"id"`
	Status       BatchStatus `json:"status"`
	SyncedLeads  int         `json:"synced_leads"`
	SkippedLeads int         `json:"skipped_leads"`
	FailedLeads  int         `json:"failed_leads"`
	TotalLeads   int         `json:"total_leads"`
	DryRun       bool        `json:"dry_run"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
