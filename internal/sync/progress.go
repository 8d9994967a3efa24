package sync

import (
	"fmt"
	"time"
)

// Progress accumulates chunk results over one backfill run. A fresh Progress
// is created at run start and discarded on the next start; counters only ever
// grow within a run.
type Progress struct {
	TotalSynced     int           `json:"total_synced"`
	Skipped         SkipBreakdown `json:"skipped"`
	TotalErrors     int           `json:"total_errors"`
	TotalLeads      int           `json:"total_leads"`
	LeadsProcessed  int           `json:"leads_processed"`
	ChunksCompleted int           `json:"chunks_completed"`
	Done            bool          `json:"done"`
	Cancelled       bool          `json:"cancelled"`
	StartedAt       time.Time     `json:"started_at"`
}

// NewProgress returns a zeroed accumulator stamped with the run start time.
func NewProgress(startedAt time.Time) *Progress {
	return &Progress{StartedAt: startedAt}
}

// Apply folds one chunk result into the accumulator. A failed chunk returns
// an error and leaves previously accumulated totals untouched.
func (p *Progress) Apply(chunk *ChunkResult) error {
	if !chunk.Success {
		if chunk.Error != "" {
			return fmt.Errorf("chunk failed: %s", chunk.Error)
		}
		return fmt.Errorf("chunk failed without error detail")
	}

	p.TotalSynced += chunk.Synced
	p.TotalErrors += chunk.Errors
	p.Skipped.Add(chunk.Skipped)
	p.LeadsProcessed += chunk.LeadsProcessed

	// Servers may only know the full lead count once collection finishes, so
	// prefer the most recent non-zero report.
	if chunk.Total > 0 {
		p.TotalLeads = chunk.Total
	}

	p.ChunksCompleted++

	// Reflects the latest chunk's verdict, not a cumulative flag.
	p.Done = chunk.Done

	return nil
}

// Percent returns completion as 0-100, or 0 when the total is still unknown.
func (p *Progress) Percent() float64 {
	if p.TotalLeads <= 0 {
		return 0
	}
	pct := float64(p.LeadsProcessed) / float64(p.TotalLeads) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ETA estimates remaining duration from throughput so far. Returns zero until
// enough is known to estimate (no total, or nothing processed yet).
func (p *Progress) ETA(now time.Time) time.Duration {
	if p.TotalLeads <= 0 || p.LeadsProcessed <= 0 {
		return 0
	}
	remaining := p.TotalLeads - p.LeadsProcessed
	if remaining <= 0 {
		return 0
	}
	elapsed := now.Sub(p.StartedAt)
	if elapsed <= 0 {
		return 0
	}
	perLead := elapsed / time.Duration(p.LeadsProcessed)
	return perLead * time.Duration(remaining)
}

// Elapsed returns time since the run started.
func (p *Progress) Elapsed(now time.Time) time.Duration {
	return now.Sub(p.StartedAt)
}
