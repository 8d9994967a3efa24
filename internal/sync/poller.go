package sync

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is how often the status poller fetches batch state.
const DefaultPollInterval = 3 * time.Second

// StatusFetcher retrieves the current snapshot of a batch.
type StatusFetcher interface {
	FetchBatch(ctx context.Context, batchID string) (*BatchSnapshot, error)
}

// PollerCallbacks receive poll outcomes. All callbacks are optional and are
// invoked from the poller's goroutine, never concurrently with each other.
type PollerCallbacks struct {
	// OnStatus fires after every successful fetch, terminal or not.
	OnStatus func(snapshot *BatchSnapshot)
	// OnComplete fires exactly once, with the final snapshot, when the batch
	// leaves the active status set.
	OnComplete func(snapshot *BatchSnapshot)
	// OnError fires on a failed fetch. Polling continues: transient network
	// errors are tolerated and an operator supervises the batch.
	OnError func(err error)
}

// StatusPoller watches an externally-driven batch on a fixed interval and
// stops itself when the batch reaches a terminal status. The timer handle is
// owned by the poller and released on every exit path: terminal status, batch
// change, explicit Stop, or context cancellation.
type StatusPoller struct {
	fetcher   StatusFetcher
	interval  time.Duration
	callbacks PollerCallbacks

	mu      stdsync.Mutex
	batchID string
	stop    chan struct{}
	done    chan struct{}
}

// NewStatusPoller creates an inactive poller. A non-positive interval falls
// back to DefaultPollInterval.
func NewStatusPoller(fetcher StatusFetcher, interval time.Duration, callbacks PollerCallbacks) *StatusPoller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &StatusPoller{
		fetcher:   fetcher,
		interval:  interval,
		callbacks: callbacks,
	}
}

// Watch starts polling the given batch. Any previous watch is torn down
// first, so two timers never overlap. An empty batch ID just stops polling.
func (p *StatusPoller) Watch(ctx context.Context, batchID string) {
	p.Stop()

	if batchID == "" {
		return
	}

	p.mu.Lock()
	p.batchID = batchID
	fetcher := p.fetcher
	stop := make(chan struct{})
	done := make(chan struct{})
	p.stop = stop
	p.done = done
	p.mu.Unlock()

	go p.poll(ctx, fetcher, batchID, stop, done)
}

// Stop tears down the active timer, if any, and waits for the polling
// goroutine to exit. Safe to call when inactive or more than once.
func (p *StatusPoller) Stop() {
	p.mu.Lock()
	stop := p.stop
	done := p.done
	p.stop = nil
	p.done = nil
	p.batchID = ""
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Active reports whether a poll timer is currently running.
func (p *StatusPoller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Refresh performs a one-shot fetch outside the timer, for use after
// auto-polling has stopped. It never creates a second timer.
func (p *StatusPoller) Refresh(ctx context.Context, batchID string) (*BatchSnapshot, error) {
	snapshot, err := p.fetcher.FetchBatch(ctx, batchID)
	if err != nil {
		if p.callbacks.OnError != nil {
			p.callbacks.OnError(err)
		}
		return nil, err
	}
	if p.callbacks.OnStatus != nil {
		p.callbacks.OnStatus(snapshot)
	}
	return snapshot, nil
}

// poll runs the fixed-interval fetch loop until the batch goes terminal or
// the poller is torn down.
func (p *StatusPoller) poll(ctx context.Context, fetcher StatusFetcher, batchID string, stop chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			p.clear(stop)
			return
		case <-ticker.C:
			snapshot, err := fetcher.FetchBatch(ctx, batchID)
			if err != nil {
				log.Warn().Err(err).Str("batch_id", batchID).Msg("Batch status fetch failed, will retry on next tick")
				if p.callbacks.OnError != nil {
					p.callbacks.OnError(err)
				}
				continue
			}

			if p.callbacks.OnStatus != nil {
				p.callbacks.OnStatus(snapshot)
			}

			if !snapshot.Status.IsActive() {
				log.Info().
					Str("batch_id", batchID).
					Str("status", string(snapshot.Status)).
					Msg("Batch reached terminal status, stopping poller")
				p.clear(stop)
				if p.callbacks.OnComplete != nil {
					p.callbacks.OnComplete(snapshot)
				}
				return
			}
		}
	}
}

// clear detaches the poller's handles when the loop exits on its own, so a
// later Stop doesn't close an already-finished channel.
func (p *StatusPoller) clear(stop chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop == stop {
		p.stop = nil
		p.done = nil
		p.batchID = ""
	}
}
