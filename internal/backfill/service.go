package backfill

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bridgeops/leadbridge/internal/db"
	leadsync "github.com/bridgeops/leadbridge/internal/sync"
)

// BatchStore is the lifecycle service's slice of the database.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *db.SyncBatch) error
	GetBatch(ctx context.Context, batchID string) (*db.SyncBatch, error)
	ListBatches(ctx context.Context, batchType string, limit, offset int) ([]*db.SyncBatch, int, error)
	UpdateBatchStatus(ctx context.Context, batchID, status string, errorMessage *string) error
	SetBatchTotalLeads(ctx context.Context, batchID string, total int) error
	AppendActivity(ctx context.Context, batchID string, logType db.LogType, message string, metadata map[string]interface{}) error
	ListFailedLeads(ctx context.Context, batchID string) ([]db.FailedLead, error)
	ClearFailedLeads(ctx context.Context, batchID string) error
	AddBatchCounters(ctx context.Context, batchID string, synced, skippedAlready, skippedDuring, failed int) error
	CreateNotification(ctx context.Context, n *db.Notification) error
}

// runIntent records why a runner was asked to stop, so the batch lands on
// paused rather than cancelled when the operator only wanted a pause.
type runIntent string

const (
	intentNone   runIntent = ""
	intentPause  runIntent = "pause"
	intentCancel runIntent = "cancel"
)

// BatchService owns batch lifecycle: it creates batch records, drives the
// chunk loop for each, and validates control transitions.
type BatchService struct {
	store    BatchStore
	executor *Executor
	source   LeadSource

	mu      stdsync.Mutex
	runners map[string]*leadsync.Runner
	intents map[string]runIntent
}

// NewBatchService creates the lifecycle service.
func NewBatchService(store BatchStore, executor *Executor, source LeadSource) *BatchService {
	return &BatchService{
		store:    store,
		executor: executor,
		source:   source,
		runners:  make(map[string]*leadsync.Runner),
		intents:  make(map[string]runIntent),
	}
}

// Start creates a backfill batch and launches its run loop.
func (s *BatchService) Start(ctx context.Context, order *leadsync.WorkOrder) (*db.SyncBatch, error) {
	if order.TimeLimitMs <= 0 {
		order.TimeLimitMs = int(leadsync.DefaultTimeLimit / time.Millisecond)
	}
	if err := order.Validate(); err != nil {
		return nil, err
	}

	batch := &db.SyncBatch{
		ID:          uuid.New().String(),
		BatchType:   db.BatchTypeBackfill,
		Status:      string(leadsync.BatchStatusPending),
		TargetIDs:   order.TargetIDs,
		DryRun:      order.DryRun,
		BatchSize:   order.BatchSize,
		MaxItems:    order.MaxItems,
		TimeLimitMs: order.TimeLimitMs,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	if err := s.store.AppendActivity(ctx, batch.ID, db.LogTypeInfo, "Batch created", map[string]interface{}{
		"targets":   order.TargetIDs,
		"dry_run":   order.DryRun,
		"max_items": order.MaxItems,
	}); err != nil {
		log.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to log batch creation")
	}

	// The run outlives the HTTP request that started it.
	go s.run(context.Background(), batch.ID, order)

	return batch, nil
}

// Get returns a batch record.
func (s *BatchService) Get(ctx context.Context, batchID string) (*db.SyncBatch, error) {
	return s.store.GetBatch(ctx, batchID)
}

// List returns batches newest-first.
func (s *BatchService) List(ctx context.Context, batchType string, limit, offset int) ([]*db.SyncBatch, int, error) {
	return s.store.ListBatches(ctx, batchType, limit, offset)
}

// Pause stops the loop after the in-flight chunk; cursors keep their place.
func (s *BatchService) Pause(ctx context.Context, batchID string) error {
	return s.stopRun(ctx, batchID, intentPause, leadsync.BatchStatusProcessing)
}

// Cancel stops the loop and ends the batch.
func (s *BatchService) Cancel(ctx context.Context, batchID string) error {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	status := leadsync.BatchStatus(batch.Status)
	if !status.IsActive() {
		return fmt.Errorf("cannot cancel batch in status %s", batch.Status)
	}

	// Pending and paused batches have no live runner to stop.
	s.mu.Lock()
	runner, running := s.runners[batchID]
	if running {
		s.intents[batchID] = intentCancel
	}
	s.mu.Unlock()

	if running {
		runner.Cancel()
		return nil
	}

	if err := s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusCancelled), nil); err != nil {
		return err
	}
	return s.store.AppendActivity(ctx, batchID, db.LogTypeWarning, "Batch cancelled", nil)
}

// Resume restarts a paused batch; the saved cursors make it continue where
// the pause left it.
func (s *BatchService) Resume(ctx context.Context, batchID string) error {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if leadsync.BatchStatus(batch.Status) != leadsync.BatchStatusPaused {
		return fmt.Errorf("cannot resume batch in status %s", batch.Status)
	}

	order := orderFromBatch(batch)
	go s.run(context.Background(), batchID, order)
	return nil
}

// RetryFailed re-syncs the batch's failed leads, resetting only the failed
// counter. Usable once the batch has finished.
func (s *BatchService) RetryFailed(ctx context.Context, batchID string) error {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if leadsync.BatchStatus(batch.Status).IsActive() {
		return fmt.Errorf("cannot retry batch in status %s", batch.Status)
	}

	failed, err := s.store.ListFailedLeads(ctx, batchID)
	if err != nil {
		return err
	}
	if len(failed) == 0 {
		return fmt.Errorf("batch %s has no failed leads to retry", batchID)
	}

	if err := s.store.ClearFailedLeads(ctx, batchID); err != nil {
		return err
	}
	if err := s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusProcessing), nil); err != nil {
		return err
	}

	go func() {
		ctx := context.Background()
		synced, errored := s.executor.RetryLeads(ctx, batchID, failed)

		if err := s.store.AddBatchCounters(ctx, batchID, synced, 0, 0, errored); err != nil {
			log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to update retry counters")
		}

		status := leadsync.BatchStatusCompleted
		if errored > 0 && synced == 0 {
			status = leadsync.BatchStatusFailed
		}
		if err := s.store.UpdateBatchStatus(ctx, batchID, string(status), nil); err != nil {
			log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to finish retry pass")
			return
		}
		if err := s.store.AppendActivity(ctx, batchID, db.LogTypeInfo,
			fmt.Sprintf("Retried %d failed leads (%d synced, %d failed again)", len(failed), synced, errored), nil); err != nil {
			log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to log retry pass")
		}
	}()

	return nil
}

// run drives one batch to a terminal state.
func (s *BatchService) run(ctx context.Context, batchID string, order *leadsync.WorkOrder) {
	hub := sentry.CurrentHub().Clone()
	ctx = sentry.SetHubOnContext(ctx, hub)

	if err := s.prepare(ctx, batchID, order); err != nil {
		s.fail(ctx, batchID, err)
		return
	}

	runner := leadsync.NewRunner(s.executor.Bind(batchID))
	s.mu.Lock()
	s.runners[batchID] = runner
	s.intents[batchID] = intentNone
	s.mu.Unlock()

	_, runErr := runner.Run(ctx, order)

	s.mu.Lock()
	intent := s.intents[batchID]
	delete(s.runners, batchID)
	delete(s.intents, batchID)
	s.mu.Unlock()

	switch runner.State() {
	case leadsync.RunStateCompleted:
		s.complete(ctx, batchID)
	case leadsync.RunStateCancelled:
		if intent == intentPause {
			s.pause(ctx, batchID)
		} else {
			s.cancelled(ctx, batchID)
		}
	default:
		s.fail(ctx, batchID, runErr)
	}
}

// prepare moves the batch through collecting: it counts the total leads
// across target campaigns so progress percentages mean something.
func (s *BatchService) prepare(ctx context.Context, batchID string, order *leadsync.WorkOrder) error {
	if err := s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusCollecting), nil); err != nil {
		return err
	}

	total := 0
	for _, campaignID := range order.TargetIDs {
		page, err := s.source.ListLeads(ctx, campaignID, 0, 1)
		if err != nil {
			return fmt.Errorf("failed to count campaign %s: %w", campaignID, err)
		}
		total += page.Total
	}

	if err := s.store.SetBatchTotalLeads(ctx, batchID, total); err != nil {
		return err
	}
	if err := s.store.AppendActivity(ctx, batchID, db.LogTypeInfo,
		fmt.Sprintf("Collected %d leads across %d campaigns", total, len(order.TargetIDs)), nil); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to log collection")
	}

	return s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusProcessing), nil)
}

func (s *BatchService) complete(ctx context.Context, batchID string) {
	if err := s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusCompleted), nil); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark batch completed")
		return
	}
	if err := s.store.AppendActivity(ctx, batchID, db.LogTypeSuccess, "Batch completed", nil); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to log completion")
	}
	s.notify(ctx, batchID, db.NotificationBatchComplete, "Backfill batch completed")
}

func (s *BatchService) pause(ctx context.Context, batchID string) {
	if err := s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusPaused), nil); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark batch paused")
		return
	}
	if err := s.store.AppendActivity(ctx, batchID, db.LogTypeInfo, "Batch paused", nil); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to log pause")
	}
}

func (s *BatchService) cancelled(ctx context.Context, batchID string) {
	if err := s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusCancelled), nil); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark batch cancelled")
		return
	}
	if err := s.store.AppendActivity(ctx, batchID, db.LogTypeWarning, "Batch cancelled", nil); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to log cancellation")
	}
}

func (s *BatchService) fail(ctx context.Context, batchID string, cause error) {
	sentry.CaptureException(cause)

	message := cause.Error()
	if err := s.store.UpdateBatchStatus(ctx, batchID, string(leadsync.BatchStatusFailed), &message); err != nil {
		log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to mark batch failed")
		return
	}
	if err := s.store.AppendActivity(ctx, batchID, db.LogTypeError, "Batch failed: "+message, nil); err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to log failure")
	}
	s.notify(ctx, batchID, db.NotificationBatchFailed, "Backfill batch failed: "+message)

	log.Error().Err(cause).Str("batch_id", batchID).Msg("Batch failed")
}

func (s *BatchService) notify(ctx context.Context, batchID string, notifType db.NotificationType, subject string) {
	err := s.store.CreateNotification(ctx, &db.Notification{
		ID:      uuid.New().String(),
		Type:    notifType,
		Subject: subject,
		Link:    "/v1/batches/" + batchID,
		Data:    map[string]interface{}{"batch_id": batchID},
	})
	if err != nil {
		log.Warn().Err(err).Str("batch_id", batchID).Msg("Failed to create notification")
	}
}

// stopRun requests a cooperative stop of a live runner.
func (s *BatchService) stopRun(ctx context.Context, batchID string, intent runIntent, requiredStatus leadsync.BatchStatus) error {
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if leadsync.BatchStatus(batch.Status) != requiredStatus {
		return fmt.Errorf("cannot %s batch in status %s", intent, batch.Status)
	}

	s.mu.Lock()
	runner, ok := s.runners[batchID]
	if ok {
		s.intents[batchID] = intent
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("batch %s has no active run", batchID)
	}

	runner.Cancel()
	return nil
}

// orderFromBatch rebuilds the original work order carried on every chunk.
// Batches created before time limits were persisted carry zero and fall back
// to the default.
func orderFromBatch(batch *db.SyncBatch) *leadsync.WorkOrder {
	timeLimit := batch.TimeLimitMs
	if timeLimit <= 0 {
		timeLimit = int(leadsync.DefaultTimeLimit / time.Millisecond)
	}
	return &leadsync.WorkOrder{
		TargetIDs:   batch.TargetIDs,
		DryRun:      batch.DryRun,
		BatchSize:   batch.BatchSize,
		MaxItems:    batch.MaxItems,
		TimeLimitMs: timeLimit,
	}
}
