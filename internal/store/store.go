package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hyperengineering/satchel/internal/types"
)

// Store is the persistence contract for the sync subsystem: the durable
// outbox, the conflict table, and the process-wide sync state.
type Store interface {
	// Outbox operations.
	Enqueue(ctx context.Context, op types.Operation, entityType, recordID string, payload json.RawMessage) (int64, error)
	ListPending(ctx context.Context) ([]types.QueueEntry, error)
	MarkSynced(ctx context.Context, id int64) error
	IncrementRetry(ctx context.Context, id int64, reason string) (int, error)
	MarkFailed(ctx context.Context, id int64, reason string) error
	PurgeCompleted(ctx context.Context) (int64, error)
	QueueCounts(ctx context.Context) (pending, failed int64, err error)

	// Conflict operations.
	RecordConflict(ctx context.Context, recordID string, local, remote types.RecordVersion) (string, error)
	ListConflicts(ctx context.Context) ([]types.ConflictRecord, error)
	GetConflict(ctx context.Context, id string) (*types.ConflictRecord, error)
	ResolveConflict(ctx context.Context, id string, choice types.Resolution, mergedPayload json.RawMessage) (int64, error)
	DeleteConflict(ctx context.Context, id string) error
	ConflictCount(ctx context.Context) (int64, error)

	// Sync state operations.
	GetSyncState(ctx context.Context) (*types.SyncState, error)
	SetLastSync(ctx context.Context, t time.Time) error
	SetLastError(ctx context.Context, msg string) error
	SetAuthToken(ctx context.Context, token string) error
	SetBackendURL(ctx context.Context, url string) error

	// Tier migrations. UpgradeTier flips the tier and enqueues the given
	// records in one transaction; DowngradeTier flips the tier and drops
	// pending uploads when the target is LOCAL_ONLY.
	UpgradeTier(ctx context.Context, to types.PrivacyTier, records []types.LocalRecord) (int, error)
	DowngradeTier(ctx context.Context, to types.PrivacyTier) error

	Close() error
}
