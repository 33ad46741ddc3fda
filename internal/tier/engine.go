// Package tier implements privacy tier transitions: deleting server-held
// content on downgrade and re-enqueueing local records on upgrade, with the
// tier value flipping only after the migration work succeeds.
package tier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/hyperengineering/satchel/internal/types"
	"github.com/hyperengineering/satchel/internal/worker"
)

var (
	// ErrUnknownTier means the requested transition names a tier that does
	// not exist.
	ErrUnknownTier = errors.New("unknown privacy tier")

	// ErrStaleTier means the caller's view of the current tier no longer
	// matches the persisted one.
	ErrStaleTier = errors.New("current tier changed since request")
)

// DowngradeError reports a downgrade that failed partway through remote
// deletion. Already-deleted records are not restorable, so the error carries
// the deleted-versus-total accounting for the caller to surface.
type DowngradeError struct {
	Deleted int
	Total   int
	Err     error
}

func (e *DowngradeError) Error() string {
	return fmt.Sprintf("downgrade aborted after deleting %d of %d remote records: %v", e.Deleted, e.Total, e.Err)
}

func (e *DowngradeError) Unwrap() error { return e.Err }

// Progress is one increment of a transition's remote deletion work.
type Progress struct {
	Deleted int `json:"deleted"`
	Total   int `json:"total"`
}

// ProgressFunc receives incremental deletion counts during a downgrade.
type ProgressFunc func(Progress)

// RemoteStore is the backend surface a downgrade needs.
type RemoteStore interface {
	ListRecordIDs(ctx context.Context) ([]string, error)
	DeleteRecord(ctx context.Context, recordID string) error
}

// LocalRecords surfaces the application's records for re-enqueue on upgrade.
type LocalRecords interface {
	ListRecords(ctx context.Context) ([]types.LocalRecord, error)
}

// Store is the persistence surface for tier flips. UpgradeTier and
// DowngradeTier apply the flip and its queue side effects atomically.
type Store interface {
	GetSyncState(ctx context.Context) (*types.SyncState, error)
	UpgradeTier(ctx context.Context, to types.PrivacyTier, records []types.LocalRecord) (int, error)
	DowngradeTier(ctx context.Context, to types.PrivacyTier) error
}

// Engine runs tier transitions. It shares the orchestrator's gate so no drain
// runs while a transition is in progress and vice versa.
type Engine struct {
	store   Store
	remote  RemoteStore
	records LocalRecords
	gate    *worker.Gate

	deleteRetries uint64
	deleteBackoff time.Duration
}

// NewEngine creates a transition engine sharing the orchestrator's gate.
func NewEngine(store Store, remote RemoteStore, records LocalRecords, gate *worker.Gate) *Engine {
	return &Engine{
		store:         store,
		remote:        remote,
		records:       records,
		gate:          gate,
		deleteRetries: 2,
		deleteBackoff: 500 * time.Millisecond,
	}
}

// Transition moves the installation from one tier to another. The persisted
// tier changes only after the migration work succeeds; a failed transition
// leaves the old tier in effect. Upgrade success means "enqueued", not
// "uploaded". progress may be nil.
func (e *Engine) Transition(ctx context.Context, from, to types.PrivacyTier, progress ProgressFunc) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("transition %q -> %q: %w", from, to, ErrUnknownTier)
	}

	// Block until any in-progress drain finishes; no drain starts while the
	// transition holds the gate.
	e.gate.Acquire()
	defer e.gate.Release()

	state, err := e.store.GetSyncState(ctx)
	if err != nil {
		return fmt.Errorf("load sync state: %w", err)
	}
	if state.Tier != from {
		return fmt.Errorf("persisted tier is %q, not %q: %w", state.Tier, from, ErrStaleTier)
	}
	if from == to {
		return nil
	}

	slog.Info("tier transition started",
		"component", "tier",
		"action", "transition_started",
		"from", from,
		"to", to,
	)

	if to.Rank() > from.Rank() {
		err = e.upgrade(ctx, to)
	} else {
		err = e.downgrade(ctx, from, to, progress)
	}
	if err != nil {
		slog.Error("tier transition failed",
			"component", "tier",
			"action", "transition_failed",
			"from", from,
			"to", to,
			"error", err,
		)
		return err
	}

	slog.Info("tier transition completed",
		"component", "tier",
		"action", "transition_completed",
		"from", from,
		"to", to,
	)
	return nil
}

// upgrade re-enqueues local records when full sync is being turned on, then
// flips the tier. Both happen in one store transaction so enqueueing is not
// gated by the old tier.
func (e *Engine) upgrade(ctx context.Context, to types.PrivacyTier) error {
	var records []types.LocalRecord
	if to == types.TierFullSync {
		var err error
		records, err = e.records.ListRecords(ctx)
		if err != nil {
			return fmt.Errorf("list local records: %w", err)
		}
	}

	enqueued, err := e.store.UpgradeTier(ctx, to, records)
	if err != nil {
		return fmt.Errorf("apply tier upgrade: %w", err)
	}
	if enqueued > 0 {
		slog.Info("local records enqueued for upload",
			"component", "tier",
			"action", "records_enqueued",
			"count", enqueued,
		)
	}
	return nil
}

// downgrade deletes server-held content before the tier flips. A delete
// failure aborts the transition with the old tier intact; records deleted
// before the failure are not restored.
func (e *Engine) downgrade(ctx context.Context, from, to types.PrivacyTier, progress ProgressFunc) error {
	if from == types.TierFullSync {
		if err := e.deleteRemoteRecords(ctx, progress); err != nil {
			return err
		}
	}
	if err := e.store.DowngradeTier(ctx, to); err != nil {
		return fmt.Errorf("apply tier downgrade: %w", err)
	}
	return nil
}

func (e *Engine) deleteRemoteRecords(ctx context.Context, progress ProgressFunc) error {
	ids, err := e.remote.ListRecordIDs(ctx)
	if err != nil {
		return fmt.Errorf("list remote records: %w", err)
	}

	total := len(ids)
	if progress != nil {
		progress(Progress{Deleted: 0, Total: total})
	}

	for i, id := range ids {
		if err := e.deleteWithRetry(ctx, id); err != nil {
			return &DowngradeError{Deleted: i, Total: total, Err: err}
		}
		if progress != nil {
			progress(Progress{Deleted: i + 1, Total: total})
		}
	}
	return nil
}

// deleteWithRetry retries one remote delete a few times before giving up and
// failing the transition.
func (e *Engine) deleteWithRetry(ctx context.Context, recordID string) error {
	backoff := retry.WithMaxRetries(e.deleteRetries, retry.NewExponential(e.deleteBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := e.remote.DeleteRecord(ctx, recordID); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
