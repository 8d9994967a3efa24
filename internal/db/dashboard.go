package db

import (
	"context"
	"fmt"
	"time"
)

// PipelineStats are the dashboard counters for the back office
type PipelineStats struct {
	TotalCompanies     int `json:"total_companies"`
	QualifiedCompanies int `json:"qualified_companies"`
	TotalPostings      int `json:"total_postings"`
	ActiveBatches      int `json:"active_batches"`
	SyncedLeads        int `json:"synced_leads"`
	BlockedEmails      int `json:"blocked_emails"`
}

const (
	pipelineStatsCacheKey = "dashboard:pipeline_stats"
	pipelineStatsCacheTTL = 30 * time.Second
)

// GetPipelineStats aggregates the dashboard counters, caching the result
// briefly since the dashboard polls while batches run.
func (db *DB) GetPipelineStats(ctx context.Context) (*PipelineStats, error) {
	if cached, found := db.Cache.Get(pipelineStatsCacheKey); found {
		if stats, ok := cached.(*PipelineStats); ok {
			return stats, nil
		}
	}

	stats := &PipelineStats{}
	err := db.client.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM companies),
			(SELECT COUNT(*) FROM companies WHERE status IN ('qualified', 'enriched')),
			(SELECT COUNT(*) FROM job_postings),
			(SELECT COUNT(*) FROM sync_batches WHERE status IN ('pending', 'collecting', 'processing', 'paused')),
			(SELECT COUNT(*) FROM synced_leads),
			(SELECT COUNT(*) FROM blocked_emails)
	`).Scan(
		&stats.TotalCompanies,
		&stats.QualifiedCompanies,
		&stats.TotalPostings,
		&stats.ActiveBatches,
		&stats.SyncedLeads,
		&stats.BlockedEmails,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline stats: %w", err)
	}

	db.Cache.SetWithTTL(pipelineStatsCacheKey, stats, pipelineStatsCacheTTL)

	return stats, nil
}
