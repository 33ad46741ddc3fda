package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/satchel/internal/types"
)

// Sync state keys.
const (
	metaDeviceID   = "device_id"
	metaTier       = "privacy_tier"
	metaBackendURL = "backend_url"
	metaAuthToken  = "auth_token"
	metaLastSync   = "last_sync_time"
	metaLastError  = "last_error"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getMetaTx reads one sync_state value; missing keys return empty string.
func getMetaTx(ctx context.Context, q queryer, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get sync state %s: %w", key, err)
	}
	return value, nil
}

func setMetaTx(ctx context.Context, e execer, key, value string) error {
	_, err := e.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_state (key, value) VALUES (?, ?)
	`, key, value)
	if err != nil {
		return fmt.Errorf("set sync state %s: %w", key, err)
	}
	return nil
}

// GetSyncState returns the persisted process-wide sync state.
func (s *SQLiteStore) GetSyncState(ctx context.Context) (*types.SyncState, error) {
	state := &types.SyncState{}

	for key, dst := range map[string]*string{
		metaDeviceID:   &state.DeviceID,
		metaBackendURL: &state.BackendURL,
		metaAuthToken:  &state.AuthToken,
		metaLastError:  &state.LastError,
	} {
		value, err := getMetaTx(ctx, s.db, key)
		if err != nil {
			return nil, err
		}
		*dst = value
	}

	tier, err := getMetaTx(ctx, s.db, metaTier)
	if err != nil {
		return nil, err
	}
	state.Tier = types.PrivacyTier(tier)

	lastSync, err := getMetaTx(ctx, s.db, metaLastSync)
	if err != nil {
		return nil, err
	}
	if lastSync != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastSync); err == nil {
			state.LastSyncTime = t
		} else {
			slog.Warn("sync_state: failed to parse last_sync_time", "value", lastSync, "error", err)
		}
	}

	return state, nil
}

// SetLastSync records the completion time of the most recent drain cycle.
func (s *SQLiteStore) SetLastSync(ctx context.Context, t time.Time) error {
	return setMetaTx(ctx, s.db, metaLastSync, t.UTC().Format(time.RFC3339Nano))
}

// SetLastError records the most recent sync error for status surfaces.
// An empty string clears it.
func (s *SQLiteStore) SetLastError(ctx context.Context, msg string) error {
	return setMetaTx(ctx, s.db, metaLastError, msg)
}

// SetAuthToken stores the backend credential.
func (s *SQLiteStore) SetAuthToken(ctx context.Context, token string) error {
	return setMetaTx(ctx, s.db, metaAuthToken, token)
}

// SetBackendURL stores the backup endpoint base URL.
func (s *SQLiteStore) SetBackendURL(ctx context.Context, url string) error {
	return setMetaTx(ctx, s.db, metaBackendURL, url)
}

// UpgradeTier flips the persisted tier and re-enqueues the given local
// records as UPDATE operations in one transaction, so either the tier change
// and the enqueues all land or none do. Returns the number of enqueued
// records.
func (s *SQLiteStore) UpgradeTier(ctx context.Context, to types.PrivacyTier, records []types.LocalRecord) (int, error) {
	if !to.Valid() {
		return 0, fmt.Errorf("tier %q: %w", to, ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setMetaTx(ctx, tx, metaTier, string(to)); err != nil {
		return 0, err
	}

	for _, record := range records {
		if _, err := enqueueTx(ctx, tx, types.OpUpdate, record.EntityType, record.RecordID, record.Payload); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return len(records), nil
}

// DowngradeTier flips the persisted tier. When the target is LOCAL_ONLY,
// still-pending uploads are dropped in the same transaction: nothing may
// leave the device once the tier is maximally private.
func (s *SQLiteStore) DowngradeTier(ctx context.Context, to types.PrivacyTier) error {
	if !to.Valid() {
		return fmt.Errorf("tier %q: %w", to, ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := setMetaTx(ctx, tx, metaTier, string(to)); err != nil {
		return err
	}

	if to == types.TierLocalOnly {
		result, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE state = 'pending'`)
		if err != nil {
			return fmt.Errorf("drop pending entries: %w", err)
		}
		if dropped, err := result.RowsAffected(); err == nil && dropped > 0 {
			slog.Info("dropped pending uploads on downgrade",
				"component", "store",
				"action", "tier_downgrade",
				"dropped", dropped,
			)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
