// Package backfill implements the server side of the lead backfill: the
// chunk executor that pages leads from the outreach platform into the CRM,
// and the batch lifecycle around it.
package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/blocklist"
	"github.com/bridgeops/leadbridge/internal/crm"
	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/observability"
	"github.com/bridgeops/leadbridge/internal/outreach"
	leadsync "github.com/bridgeops/leadbridge/internal/sync"
)

// LeadSource pages leads out of the outreach platform.
type LeadSource interface {
	ListLeads(ctx context.Context, campaignID string, skip, limit int) (*outreach.LeadPage, error)
}

// CRM writes persons, organizations and deals into the CRM.
type CRM interface {
	FindPersonByEmail(ctx context.Context, email string) (*crm.Person, error)
	CreatePerson(ctx context.Context, req *crm.PersonRequest) (*crm.Person, error)
	CreateOrganization(ctx context.Context, name string) (*crm.Organization, error)
	CreateDeal(ctx context.Context, req *crm.DealRequest) (*crm.Deal, error)
}

// BlocklistLoader snapshots the blocklist for one chunk.
type BlocklistLoader interface {
	LoadMatcher(ctx context.Context) (*blocklist.Matcher, error)
}

// Store is the executor's slice of the database.
type Store interface {
	GetBatch(ctx context.Context, batchID string) (*db.SyncBatch, error)
	GetCursor(ctx context.Context, batchID, campaignID string) (*db.Cursor, error)
	SaveCursor(ctx context.Context, cursor *db.Cursor) error
	FilterAlreadySynced(ctx context.Context, emails []string) (map[string]bool, error)
	MarkLeadSynced(ctx context.Context, email, campaignID, crmPersonID, batchID string) error
	RecordFailedLead(ctx context.Context, batchID, email, campaignID, errorMessage string) error
	AddBatchCounters(ctx context.Context, batchID string, synced, skippedAlready, skippedDuring, failed int) error
	AppendActivity(ctx context.Context, batchID string, logType db.LogType, message string, metadata map[string]interface{}) error
}

// Executor processes one bounded chunk of a backfill batch per call. The
// cursor rows make a re-issued call continue exactly where the previous one
// stopped, so the loop controller can drive it to completion one chunk at a
// time.
type Executor struct {
	store     Store
	source    LeadSource
	crm       CRM
	blocklist BlocklistLoader

	// now is swapped out by tests exercising the time budget
	now func() time.Time
}

// NewExecutor creates a chunk executor.
func NewExecutor(store Store, source LeadSource, crmClient CRM, blocklistLoader BlocklistLoader) *Executor {
	return &Executor{
		store:     store,
		source:    source,
		crm:       crmClient,
		blocklist: blocklistLoader,
		now:       time.Now,
	}
}

// ExecuteChunk runs one time-boxed slice of the batch. Item-level failures
// increment the error count without failing the chunk; only infrastructure
// failures (paging, database) return an error.
func (e *Executor) ExecuteChunk(ctx context.Context, batchID string, order *leadsync.WorkOrder) (*leadsync.ChunkResult, error) {
	span := sentry.StartSpan(ctx, "backfill.execute_chunk")
	defer span.Finish()
	span.SetData("batch_id", batchID)

	ctx, otelSpan := observability.StartChunkSpan(ctx, observability.ChunkSpanInfo{
		BatchID:   batchID,
		Targets:   len(order.TargetIDs),
		BatchSize: order.BatchSize,
		DryRun:    order.DryRun,
	})
	defer otelSpan.End()
	started := e.now()

	if err := order.Validate(); err != nil {
		return nil, err
	}

	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !leadsync.BatchStatus(batch.Status).IsActive() {
		return nil, fmt.Errorf("batch %s is %s, not active", batchID, batch.Status)
	}

	matcher, err := e.blocklist.LoadMatcher(ctx)
	if err != nil {
		return nil, err
	}

	deadline := e.now().Add(time.Duration(order.TimeLimitMs) * time.Millisecond)
	result := &leadsync.ChunkResult{
		Success: true,
		DryRun:  order.DryRun,
		Total:   batch.TotalLeads,
	}

	for _, campaignID := range order.TargetIDs {
		if err := e.drainCampaign(ctx, batchID, campaignID, order, matcher, deadline, result); err != nil {
			return nil, err
		}
		if e.budgetSpent(order, deadline, result) {
			break
		}
	}

	done, err := e.allExhausted(ctx, batchID, order.TargetIDs)
	if err != nil {
		return nil, err
	}
	result.Done = done
	result.Skipped.Total = result.Skipped.AlreadySynced + result.Skipped.DuringProcessing

	if err := e.store.AddBatchCounters(ctx, batchID,
		result.Synced, result.Skipped.AlreadySynced, result.Skipped.DuringProcessing, result.Errors); err != nil {
		return nil, err
	}

	logType := db.LogTypeInfo
	if done {
		logType = db.LogTypeSuccess
	}
	if err := e.store.AppendActivity(ctx, batchID, logType, chunkSummary(result, order.DryRun), map[string]interface{}{
		"synced":          result.Synced,
		"skipped":         result.Skipped.Total,
		"errors":          result.Errors,
		"leads_processed": result.LeadsProcessed,
		"done":            done,
	}); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to append chunk activity")
	}

	observability.RecordChunk(ctx, observability.ChunkMetrics{
		BatchID:  batchID,
		Synced:   result.Synced,
		Skipped:  result.Skipped.Total,
		Failed:   result.Errors,
		Duration: e.now().Sub(started),
	})

	log.Info().
		Str("batch_id", batchID).
		Int("synced", result.Synced).
		Int("skipped", result.Skipped.Total).
		Int("errors", result.Errors).
		Bool("done", done).
		Bool("dry_run", order.DryRun).
		Msg("Chunk completed")

	return result, nil
}

// drainCampaign pages one campaign until it is exhausted, the time budget
// expires, or the max-items cap is hit.
func (e *Executor) drainCampaign(ctx context.Context, batchID, campaignID string, order *leadsync.WorkOrder, matcher *blocklist.Matcher, deadline time.Time, result *leadsync.ChunkResult) error {
	cursor, err := e.store.GetCursor(ctx, batchID, campaignID)
	if err != nil {
		return err
	}
	if cursor.Exhausted {
		return nil
	}

	// The budget check sits at the bottom of the loop: every chunk pulls at
	// least one page, so a run always makes forward progress.
	for {
		page, err := e.source.ListLeads(ctx, campaignID, cursor.NextSkip, order.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to page campaign %s at skip %d: %w", campaignID, cursor.NextSkip, err)
		}

		if len(page.Leads) == 0 {
			cursor.Exhausted = true
			return e.store.SaveCursor(ctx, cursor)
		}

		processed, err := e.processPage(ctx, batchID, campaignID, page.Leads, order, matcher, result)
		if err != nil {
			return err
		}

		// Advance only past what was actually processed so a max-items cap
		// mid-page resumes on the first untouched lead.
		cursor.NextSkip += processed
		if err := e.store.SaveCursor(ctx, cursor); err != nil {
			return err
		}

		if e.budgetSpent(order, deadline, result) {
			return nil
		}
	}
}

// processPage classifies and syncs one page of leads, returning how many it
// got through before any max-items cap.
func (e *Executor) processPage(ctx context.Context, batchID, campaignID string, leads []outreach.Lead, order *leadsync.WorkOrder, matcher *blocklist.Matcher, result *leadsync.ChunkResult) (int, error) {
	emails := make([]string, 0, len(leads))
	for _, lead := range leads {
		emails = append(emails, strings.ToLower(lead.Email))
	}
	alreadySynced, err := e.store.FilterAlreadySynced(ctx, emails)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, lead := range leads {
		if order.MaxItems > 0 && result.LeadsProcessed >= order.MaxItems {
			return processed, nil
		}
		result.LeadsProcessed++
		processed++

		email := strings.ToLower(strings.TrimSpace(lead.Email))
		switch {
		case email == "" || !strings.Contains(email, "@"):
			result.Skipped.DuringProcessing++
		case alreadySynced[email]:
			result.Skipped.AlreadySynced++
		case matcher.Blocked(email):
			result.Skipped.DuringProcessing++
		case order.DryRun:
			result.Synced++
		default:
			if err := e.syncLead(ctx, batchID, campaignID, email, &lead); err != nil {
				result.Errors++
				if recErr := e.store.RecordFailedLead(ctx, batchID, email, campaignID, err.Error()); recErr != nil {
					return processed, recErr
				}
				log.Warn().Err(err).Str("email", email).Str("batch_id", batchID).Msg("Lead sync failed")
			} else {
				result.Synced++
			}
		}
	}

	return processed, nil
}

// syncLead writes one lead into the CRM, reusing an existing person when the
// email is already there.
func (e *Executor) syncLead(ctx context.Context, batchID, campaignID, email string, lead *outreach.Lead) error {
	person, err := e.crm.FindPersonByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("person search failed: %w", err)
	}

	if person == nil {
		name := strings.TrimSpace(lead.FirstName + " " + lead.LastName)
		if name == "" {
			name = email
		}

		var orgID int
		if lead.CompanyName != "" {
			org, err := e.crm.CreateOrganization(ctx, lead.CompanyName)
			if err != nil {
				return fmt.Errorf("organization create failed: %w", err)
			}
			orgID = org.ID
		}

		person, err = e.crm.CreatePerson(ctx, &crm.PersonRequest{Name: name, Email: email, OrgID: orgID})
		if err != nil {
			return fmt.Errorf("person create failed: %w", err)
		}

		// Only a freshly created person opens a deal; a found person already
		// has one from an earlier run.
		if _, err := e.crm.CreateDeal(ctx, &crm.DealRequest{
			Title:    fmt.Sprintf("%s (%s)", name, campaignID),
			PersonID: person.ID,
			OrgID:    orgID,
		}); err != nil {
			return fmt.Errorf("deal create failed: %w", err)
		}
	}

	return e.store.MarkLeadSynced(ctx, email, campaignID, fmt.Sprintf("%d", person.ID), batchID)
}

// RetryLeads re-syncs previously failed leads one by one, returning how many
// synced and how many failed again. Failures are re-recorded so a further
// retry stays possible.
func (e *Executor) RetryLeads(ctx context.Context, batchID string, failed []db.FailedLead) (synced, errored int) {
	span := sentry.StartSpan(ctx, "backfill.retry_leads")
	defer span.Finish()
	span.SetData("batch_id", batchID)

	for _, item := range failed {
		lead := outreach.Lead{Email: item.Email}
		if err := e.syncLead(ctx, batchID, item.CampaignID, strings.ToLower(item.Email), &lead); err != nil {
			errored++
			if recErr := e.store.RecordFailedLead(ctx, batchID, strings.ToLower(item.Email), item.CampaignID, err.Error()); recErr != nil {
				log.Error().Err(recErr).Str("batch_id", batchID).Msg("Failed to re-record failed lead")
			}
			continue
		}
		synced++
	}

	log.Info().
		Str("batch_id", batchID).
		Int("synced", synced).
		Int("errored", errored).
		Msg("Retry pass completed")

	return synced, errored
}

// budgetSpent reports whether this chunk should stop pulling more pages.
func (e *Executor) budgetSpent(order *leadsync.WorkOrder, deadline time.Time, result *leadsync.ChunkResult) bool {
	if order.MaxItems > 0 && result.LeadsProcessed >= order.MaxItems {
		return true
	}
	return !e.now().Before(deadline)
}

// allExhausted reports whether every target campaign's cursor is spent.
func (e *Executor) allExhausted(ctx context.Context, batchID string, campaignIDs []string) (bool, error) {
	for _, campaignID := range campaignIDs {
		cursor, err := e.store.GetCursor(ctx, batchID, campaignID)
		if err != nil {
			return false, err
		}
		if !cursor.Exhausted {
			return false, nil
		}
	}
	return true, nil
}

func chunkSummary(result *leadsync.ChunkResult, dryRun bool) string {
	verb := "Synced"
	if dryRun {
		verb = "Would sync"
	}
	return fmt.Sprintf("%s %d leads (%d skipped, %d errors)", verb, result.Synced, result.Skipped.Total, result.Errors)
}

// BoundExecutor adapts the executor to one batch so it satisfies the loop
// controller's ChunkExecutor interface.
type BoundExecutor struct {
	executor *Executor
	batchID  string
}

// Bind fixes the executor to a batch ID.
func (e *Executor) Bind(batchID string) *BoundExecutor {
	return &BoundExecutor{executor: e, batchID: batchID}
}

// ExecuteChunk implements sync.ChunkExecutor.
func (b *BoundExecutor) ExecuteChunk(ctx context.Context, order *leadsync.WorkOrder) (*leadsync.ChunkResult, error) {
	return b.executor.ExecuteChunk(ctx, b.batchID, order)
}
