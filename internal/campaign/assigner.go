// Package campaign implements the scheduled campaign-assignment job: verified
// contacts of qualified companies are spread round-robin across the active
// outreach campaigns.
package campaign

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/bridgeops/leadbridge/internal/db"
	"github.com/bridgeops/leadbridge/internal/outreach"
	leadsync "github.com/bridgeops/leadbridge/internal/sync"
)

const (
	// DefaultInterval is how often the assigner looks for new contacts.
	DefaultInterval = 15 * time.Minute
	// defaultContactLimit bounds one assignment pass.
	defaultContactLimit = 200
	// defaultConcurrency bounds parallel lead-creation calls.
	defaultConcurrency = 4
)

// Store is the assigner's slice of the database.
type Store interface {
	ListUnassignedContacts(ctx context.Context, limit int) ([]db.QualifiedContact, error)
	RecordAssignment(ctx context.Context, id, batchID, companyID, email, campaignID string) error
	CreateBatch(ctx context.Context, batch *db.SyncBatch) error
	UpdateBatchStatus(ctx context.Context, batchID, status string, errorMessage *string) error
	AddBatchCounters(ctx context.Context, batchID string, synced, skippedAlready, skippedDuring, failed int) error
	AppendActivity(ctx context.Context, batchID string, logType db.LogType, message string, metadata map[string]interface{}) error
}

// Outreach is the slice of the campaign platform the assigner needs.
type Outreach interface {
	ListCampaigns(ctx context.Context) ([]outreach.Campaign, error)
	CreateLead(ctx context.Context, campaignID string, lead *outreach.Lead) error
}

// Assigner runs assignment passes on a fixed interval.
type Assigner struct {
	store    Store
	platform Outreach

	Interval     time.Duration
	ContactLimit int
	Concurrency  int
}

// NewAssigner creates an assigner with default pacing.
func NewAssigner(store Store, platform Outreach) *Assigner {
	return &Assigner{
		store:        store,
		platform:     platform,
		Interval:     DefaultInterval,
		ContactLimit: defaultContactLimit,
		Concurrency:  defaultConcurrency,
	}
}

// Run blocks, running one assignment pass per interval until the context is
// cancelled. Pass failures are logged and the schedule keeps going.
func (a *Assigner) Run(ctx context.Context) {
	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	log.Info().Dur("interval", a.Interval).Msg("Campaign assigner started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Campaign assigner stopped")
			return
		case <-ticker.C:
			if _, err := a.AssignOnce(ctx); err != nil {
				sentry.CaptureException(err)
				log.Error().Err(err).Msg("Campaign assignment pass failed")
			}
		}
	}
}

// AssignOnce runs a single assignment pass. It returns nil without a batch
// when there is nothing to assign.
func (a *Assigner) AssignOnce(ctx context.Context) (*db.SyncBatch, error) {
	span := sentry.StartSpan(ctx, "campaign.assign_once")
	defer span.Finish()

	contacts, err := a.store.ListUnassignedContacts(ctx, a.ContactLimit)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, nil
	}

	campaigns, err := a.activeCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	if len(campaigns) == 0 {
		log.Warn().Int("contacts", len(contacts)).Msg("Contacts waiting but no active campaigns")
		return nil, nil
	}

	batch := &db.SyncBatch{
		ID:        uuid.New().String(),
		BatchType: db.BatchTypeCampaignAssignment,
		Status:    string(leadsync.BatchStatusProcessing),
		TargetIDs: campaignIDs(campaigns),
		BatchSize: a.Concurrency,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	var mu stdsync.Mutex
	assigned, failed := 0, 0

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(a.Concurrency)

	for i, contact := range contacts {
		campaign := campaigns[i%len(campaigns)]
		contact := contact
		group.Go(func() error {
			err := a.assign(groupCtx, batch.ID, contact, campaign.ID)
			mu.Lock()
			if err != nil {
				failed++
				log.Warn().Err(err).Str("email", contact.Email).Str("campaign_id", campaign.ID).Msg("Assignment failed")
			} else {
				assigned++
			}
			mu.Unlock()
			// Individual failures never abort the pass.
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if err := a.store.AddBatchCounters(ctx, batch.ID, assigned, 0, 0, failed); err != nil {
		return nil, err
	}

	status := leadsync.BatchStatusCompleted
	if assigned == 0 && failed > 0 {
		status = leadsync.BatchStatusFailed
	}
	if err := a.store.UpdateBatchStatus(ctx, batch.ID, string(status), nil); err != nil {
		return nil, err
	}

	if err := a.store.AppendActivity(ctx, batch.ID, db.LogTypeSuccess,
		fmt.Sprintf("Assigned %d contacts across %d campaigns (%d failed)", assigned, len(campaigns), failed),
		map[string]interface{}{"assigned": assigned, "failed": failed}); err != nil {
		log.Warn().Err(err).Str("batch_id", batch.ID).Msg("Failed to log assignment pass")
	}

	log.Info().
		Str("batch_id", batch.ID).
		Int("assigned", assigned).
		Int("failed", failed).
		Int("campaigns", len(campaigns)).
		Msg("Campaign assignment pass completed")

	return batch, nil
}

// assign pushes one contact into a campaign and records it.
func (a *Assigner) assign(ctx context.Context, batchID string, contact db.QualifiedContact, campaignID string) error {
	if err := a.platform.CreateLead(ctx, campaignID, &outreach.Lead{Email: contact.Email}); err != nil {
		return err
	}
	return a.store.RecordAssignment(ctx, uuid.New().String(), batchID, contact.CompanyID, contact.Email, campaignID)
}

func (a *Assigner) activeCampaigns(ctx context.Context) ([]outreach.Campaign, error) {
	campaigns, err := a.platform.ListCampaigns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	active := campaigns[:0]
	for _, campaign := range campaigns {
		if campaign.Status == outreach.CampaignStatusActive {
			active = append(active, campaign)
		}
	}
	return active, nil
}

func campaignIDs(campaigns []outreach.Campaign) []string {
	ids := make([]string, 0, len(campaigns))
	for _, campaign := range campaigns {
		ids = append(ids, campaign.ID)
	}
	return ids
}
