// Package worker hosts the sync orchestrator: the periodic loop that drains
// the durable outbox through the upload transport, applies retry and conflict
// policy, and maintains the persisted sync state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/satchel/internal/transport"
	"github.com/hyperengineering/satchel/internal/types"
)

var (
	// ErrSyncPaused means an earlier drain hit an authentication failure and
	// sync is suspended until credentials are refreshed.
	ErrSyncPaused = errors.New("sync paused pending re-authentication")

	// ErrDrainInProgress means another drain currently holds the gate.
	ErrDrainInProgress = errors.New("drain already in progress")
)

// Outbox is the queue surface the orchestrator drains.
type Outbox interface {
	ListPending(ctx context.Context) ([]types.QueueEntry, error)
	MarkSynced(ctx context.Context, id int64) error
	IncrementRetry(ctx context.Context, id int64, reason string) (int, error)
	MarkFailed(ctx context.Context, id int64, reason string) error
	QueueCounts(ctx context.Context) (pending, failed int64, err error)
}

// ConflictSink persists detected write-write conflicts.
type ConflictSink interface {
	RecordConflict(ctx context.Context, recordID string, local, remote types.RecordVersion) (string, error)
	ConflictCount(ctx context.Context) (int64, error)
}

// StateStore is the persisted sync bookkeeping the orchestrator reads and
// updates.
type StateStore interface {
	GetSyncState(ctx context.Context) (*types.SyncState, error)
	SetLastSync(ctx context.Context, t time.Time) error
	SetLastError(ctx context.Context, msg string) error
}

// Uploader submits one queue entry to the remote backend.
type Uploader interface {
	Upload(ctx context.Context, entry types.QueueEntry) (transport.Outcome, error)
}

// Config carries the orchestrator's tunables.
type Config struct {
	Interval    time.Duration
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// Orchestrator drives periodic drains of the outbox. At most one drain runs
// at a time; ticks that find a drain in progress are skipped, not queued.
type Orchestrator struct {
	outbox    Outbox
	conflicts ConflictSink
	state     StateStore
	uploader  Uploader
	gate      *Gate

	interval   time.Duration
	maxRetries int
	schedule   Schedule

	paused atomic.Bool

	// sleep and now are swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

// NewOrchestrator creates an orchestrator sharing the given gate with the
// tier transition engine.
func NewOrchestrator(outbox Outbox, conflicts ConflictSink, state StateStore, uploader Uploader, gate *Gate, cfg Config) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 60 * time.Second
	}
	return &Orchestrator{
		outbox:     outbox,
		conflicts:  conflicts,
		state:      state,
		uploader:   uploader,
		gate:       gate,
		interval:   cfg.Interval,
		maxRetries: cfg.MaxRetries,
		schedule:   NewSchedule(cfg.BackoffBase, cfg.BackoffCap),
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Run starts the drain loop and blocks until ctx is cancelled. An in-progress
// drain finishes before Run returns control to the ticker, so cancellation is
// safe to issue mid-drain.
func (o *Orchestrator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "sync-orchestrator",
		"action", "worker_started",
		"interval", o.interval,
	)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	// Drain immediately on start.
	o.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "sync-orchestrator",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	err := o.DrainOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrDrainInProgress), errors.Is(err, ErrSyncPaused):
		slog.Debug("drain tick skipped",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "tick_skipped",
			"reason", err.Error(),
		)
	default:
		slog.Error("drain cycle failed",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "drain_failed",
			"error", err,
		)
	}
}

// DrainOnce attempts a single drain cycle. It returns ErrDrainInProgress when
// the gate is held by another drain or a tier transition, and ErrSyncPaused
// while sync is suspended for re-authentication.
func (o *Orchestrator) DrainOnce(ctx context.Context) error {
	if o.paused.Load() {
		return ErrSyncPaused
	}
	if !o.gate.TryAcquire() {
		return ErrDrainInProgress
	}
	defer o.gate.Release()

	return o.drain(ctx)
}

func (o *Orchestrator) drain(ctx context.Context) error {
	state, err := o.state.GetSyncState(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	if state.Tier == types.TierLocalOnly {
		return nil
	}

	entries, err := o.outbox.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending entries: %w", err)
	}
	if len(entries) == 0 {
		return o.finishDrain(ctx, 0, 0)
	}

	var synced, failed int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		o.sleep(ctx, o.schedule.Delay(entry.RetryCount))

		outcome, err := o.uploader.Upload(ctx, entry)
		if err != nil {
			// Local failures (payload decode, encryption) cannot succeed on
			// retry.
			o.markFailed(ctx, entry, err.Error())
			failed++
			continue
		}

		switch outcome.Kind {
		case transport.OutcomeSuccess:
			if err := o.outbox.MarkSynced(ctx, entry.ID); err != nil {
				return fmt.Errorf("mark entry %d synced: %w", entry.ID, err)
			}
			synced++

		case transport.OutcomeConflict:
			o.handleConflict(ctx, entry, outcome)
			failed++

		case transport.OutcomeRetryable:
			if o.retryOrFail(ctx, entry, outcome.Reason) {
				failed++
			}

		case transport.OutcomeFatal:
			if outcome.Fatal == transport.FatalAuthRequired {
				// The entry stays pending; the whole drain stops here and
				// sync pauses until credentials are refreshed.
				o.Pause(ctx, outcome.Reason)
				return nil
			}
			o.markFailed(ctx, entry, outcome.Reason)
			failed++
		}
	}

	return o.finishDrain(ctx, synced, failed)
}

// handleConflict persists both versions and charges the entry's retry budget,
// so a perpetually conflicting record cannot loop forever.
func (o *Orchestrator) handleConflict(ctx context.Context, entry types.QueueEntry, outcome transport.Outcome) {
	if outcome.Local == nil || outcome.Remote == nil {
		o.markFailed(ctx, entry, "conflict outcome missing versions")
		return
	}

	conflictID, err := o.conflicts.RecordConflict(ctx, entry.RecordID, *outcome.Local, *outcome.Remote)
	if err != nil {
		slog.Error("failed to persist conflict",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "conflict_record_failed",
			"record_id", entry.RecordID,
			"error", err,
		)
		o.retryOrFail(ctx, entry, fmt.Sprintf("persist conflict: %v", err))
		return
	}

	slog.Info("conflict detected",
		"component", "worker",
		"worker", "sync-orchestrator",
		"action", "conflict_detected",
		"record_id", entry.RecordID,
		"conflict_id", conflictID,
	)
	o.retryOrFail(ctx, entry, "version conflict, awaiting resolution")
}

// retryOrFail increments the entry's retry count and marks it failed once the
// budget is exhausted. Returns true when the entry reached the failed state.
func (o *Orchestrator) retryOrFail(ctx context.Context, entry types.QueueEntry, reason string) bool {
	count, err := o.outbox.IncrementRetry(ctx, entry.ID, reason)
	if err != nil {
		slog.Error("failed to increment retry count",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "retry_increment_failed",
			"entry_id", entry.ID,
			"error", err,
		)
		return false
	}
	if count < o.maxRetries {
		return false
	}
	o.markFailed(ctx, entry, reason)
	return true
}

func (o *Orchestrator) markFailed(ctx context.Context, entry types.QueueEntry, reason string) {
	if err := o.outbox.MarkFailed(ctx, entry.ID, reason); err != nil {
		slog.Error("failed to mark entry failed",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "mark_failed_failed",
			"entry_id", entry.ID,
			"error", err,
		)
		return
	}
	slog.Warn("queue entry failed permanently",
		"component", "worker",
		"worker", "sync-orchestrator",
		"action", "entry_failed",
		"entry_id", entry.ID,
		"record_id", entry.RecordID,
		"reason", reason,
	)
}

// finishDrain records a completed (non-paused) drain cycle.
func (o *Orchestrator) finishDrain(ctx context.Context, synced, failed int) error {
	if err := o.state.SetLastSync(ctx, o.now().UTC()); err != nil {
		return fmt.Errorf("update last sync time: %w", err)
	}
	if synced > 0 || failed > 0 {
		slog.Info("drain cycle completed",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "drain_complete",
			"synced", synced,
			"failed", failed,
		)
	}
	return nil
}

// Pause suspends drains until Resume is called. The reason is persisted as
// the current sync error so the UI can surface a re-login prompt.
func (o *Orchestrator) Pause(ctx context.Context, reason string) {
	o.paused.Store(true)
	if err := o.state.SetLastError(ctx, reason); err != nil {
		slog.Error("failed to persist pause reason",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "set_error_failed",
			"error", err,
		)
	}
	slog.Warn("sync paused",
		"component", "worker",
		"worker", "sync-orchestrator",
		"action", "sync_paused",
		"reason", reason,
	)
}

// Resume lifts a pause, typically after the auth token was refreshed, and
// clears the persisted sync error.
func (o *Orchestrator) Resume(ctx context.Context) {
	if !o.paused.CompareAndSwap(true, false) {
		return
	}
	if err := o.state.SetLastError(ctx, ""); err != nil {
		slog.Error("failed to clear sync error",
			"component", "worker",
			"worker", "sync-orchestrator",
			"action", "set_error_failed",
			"error", err,
		)
	}
	slog.Info("sync resumed",
		"component", "worker",
		"worker", "sync-orchestrator",
		"action", "sync_resumed",
	)
}

// Paused reports whether sync is currently suspended.
func (o *Orchestrator) Paused() bool {
	return o.paused.Load()
}

// Status assembles the introspection snapshot surfaced by the control API.
// Reads are plain snapshot queries and never block an in-progress drain.
func (o *Orchestrator) Status(ctx context.Context) (*types.SyncStatus, error) {
	state, err := o.state.GetSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	pending, failed, err := o.outbox.QueueCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count queue entries: %w", err)
	}
	conflicts, err := o.conflicts.ConflictCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count conflicts: %w", err)
	}
	return &types.SyncStatus{
		Tier:         state.Tier,
		Pending:      pending,
		Failed:       failed,
		Conflicts:    conflicts,
		Paused:       o.paused.Load(),
		LastSyncTime: state.LastSyncTime,
		LastError:    state.LastError,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
