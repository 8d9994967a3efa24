package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// RunState is the lifecycle state of a Runner.
type RunState string

const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateCancelled RunState = "cancelled"
	RunStateFailed    RunState = "failed"
)

// ChunkExecutor processes one bounded slice of a work order. The executor,
// not the runner, enforces the per-call time budget; the runner's only job is
// to keep re-issuing calls until a chunk reports done.
type ChunkExecutor interface {
	ExecuteChunk(ctx context.Context, order *WorkOrder) (*ChunkResult, error)
}

// Runner drives repeated chunk calls for a single backfill run. Chunk calls
// are strictly sequential so the server's already-synced dedup can
// short-circuit later calls cheaply. Only one run may be active at a time.
type Runner struct {
	executor ChunkExecutor

	mu       stdsync.Mutex
	state    RunState
	progress *Progress
	lastErr  error

	cancelled atomic.Bool
	tickStop  chan struct{}

	// OnTick, when set, is invoked once per second while a run is active
	// with the elapsed duration and a snapshot of progress so far.
	OnTick func(elapsed time.Duration, snapshot Progress)
}

// NewRunner creates an idle runner around the given executor.
func NewRunner(executor ChunkExecutor) *Runner {
	return &Runner{
		executor: executor,
		state:    RunStateIdle,
	}
}

// State returns the runner's current lifecycle state.
func (r *Runner) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns a copy of the current progress, or a zero Progress when
// no run has started.
func (r *Runner) Snapshot() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress == nil {
		return Progress{}
	}
	return *r.progress
}

// Err returns the error that stopped the last run, if any.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Cancel requests cooperative cancellation. The in-flight chunk is never
// aborted; the flag is checked between chunk calls, so at most one more chunk
// completes after the request.
func (r *Runner) Cancel() {
	r.cancelled.Store(true)
}

// Run executes a full backfill run to completion, cancellation or failure.
// It blocks until the run ends and returns the final progress. Any prior
// terminal state is discarded; a run after a failure is a full reset, never a
// resume.
func (r *Runner) Run(ctx context.Context, order *WorkOrder) (*Progress, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state == RunStateRunning {
		r.mu.Unlock()
		return nil, fmt.Errorf("a sync run is already active")
	}
	progress := NewProgress(time.Now().UTC())
	r.state = RunStateRunning
	r.progress = progress
	r.lastErr = nil
	r.cancelled.Store(false)
	r.tickStop = make(chan struct{})
	r.mu.Unlock()

	span := sentry.StartSpan(ctx, "sync.run")
	span.SetTag("targets", fmt.Sprintf("%d", len(order.TargetIDs)))
	span.SetTag("dry_run", fmt.Sprintf("%t", order.DryRun))
	defer span.Finish()

	go r.tick(r.tickStop)
	defer r.stopTicker()

	log.Info().
		Int("targets", len(order.TargetIDs)).
		Int("batch_size", order.BatchSize).
		Int("max_items", order.MaxItems).
		Bool("dry_run", order.DryRun).
		Msg("Starting backfill sync run")

	for {
		if r.cancelled.Load() {
			return r.finish(RunStateCancelled, nil)
		}

		chunk, err := r.executor.ExecuteChunk(ctx, order)
		if err != nil {
			sentry.CaptureException(err)
			return r.finish(RunStateFailed, fmt.Errorf("chunk request failed: %w", err))
		}

		r.mu.Lock()
		err = progress.Apply(chunk)
		r.mu.Unlock()
		if err != nil {
			sentry.CaptureException(err)
			return r.finish(RunStateFailed, err)
		}

		log.Debug().
			Int("chunk", progress.ChunksCompleted).
			Int("synced", chunk.Synced).
			Int("skipped", chunk.Skipped.Total).
			Int("errors", chunk.Errors).
			Bool("done", chunk.Done).
			Msg("Chunk completed")

		if chunk.Done {
			return r.finish(RunStateCompleted, nil)
		}
	}
}

// finish transitions the runner to a terminal state and emits the summary.
func (r *Runner) finish(state RunState, err error) (*Progress, error) {
	r.stopTicker()

	r.mu.Lock()
	r.state = state
	r.lastErr = err
	progress := r.progress
	switch state {
	case RunStateCompleted:
		progress.Done = true
	case RunStateCancelled:
		progress.Cancelled = true
		progress.Done = false
	case RunStateFailed:
		// Neither done nor cancelled: the run ends in an ambiguous state
		// and a manual restart must treat it as idle.
	}
	snapshot := *progress
	r.mu.Unlock()

	elapsed := snapshot.Elapsed(time.Now().UTC())

	event := log.Info()
	if state == RunStateFailed {
		event = log.Error().Err(err)
	}
	event.
		Str("state", string(state)).
		Int("synced", snapshot.TotalSynced).
		Int("skipped", snapshot.Skipped.Total).
		Int("errors", snapshot.TotalErrors).
		Int("chunks", snapshot.ChunksCompleted).
		Dur("elapsed", elapsed).
		Msg("Backfill sync run finished")

	return &snapshot, err
}

// tick drives the 1-second elapsed callback while a run is active.
func (r *Runner) tick(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			callback := r.OnTick
			var snapshot Progress
			if r.progress != nil {
				snapshot = *r.progress
			}
			r.mu.Unlock()

			if callback != nil {
				callback(now.UTC().Sub(snapshot.StartedAt), snapshot)
			}
		}
	}
}

// stopTicker releases the elapsed ticker; safe to call more than once.
func (r *Runner) stopTicker() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tickStop != nil {
		close(r.tickStop)
		r.tickStop = nil
	}
}
