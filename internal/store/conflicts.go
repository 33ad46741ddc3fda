package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	syncwire "github.com/hyperengineering/satchel/internal/sync"
	"github.com/hyperengineering/satchel/internal/types"
	"github.com/oklog/ulid/v2"
)

// RecordConflict stores a detected write-write conflict. If an unresolved
// conflict already exists for recordID it is replaced (last detection wins),
// so at most one active conflict exists per record.
func (s *SQLiteStore) RecordConflict(ctx context.Context, recordID string, local, remote types.RecordVersion) (string, error) {
	if recordID == "" {
		return "", fmt.Errorf("record id required: %w", ErrInvalidArgument)
	}

	id := ulid.Make().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (
			id, record_id,
			local_content, local_iv, local_tag, local_updated_at, local_device_id,
			remote_content, remote_iv, remote_tag, remote_updated_at, remote_device_id,
			detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(record_id) DO UPDATE SET
			id = excluded.id,
			local_content = excluded.local_content,
			local_iv = excluded.local_iv,
			local_tag = excluded.local_tag,
			local_updated_at = excluded.local_updated_at,
			local_device_id = excluded.local_device_id,
			remote_content = excluded.remote_content,
			remote_iv = excluded.remote_iv,
			remote_tag = excluded.remote_tag,
			remote_updated_at = excluded.remote_updated_at,
			remote_device_id = excluded.remote_device_id,
			detected_at = excluded.detected_at
	`,
		id, recordID,
		local.EncryptedContent, local.IV, nullableString(local.AuthTag),
		local.UpdatedAt.UTC().Format(time.RFC3339Nano), local.DeviceID,
		remote.EncryptedContent, remote.IV, nullableString(remote.AuthTag),
		remote.UpdatedAt.UTC().Format(time.RFC3339Nano), remote.DeviceID,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("record conflict: %w", err)
	}
	return id, nil
}

// ListConflicts returns all unresolved conflicts, oldest detection first.
func (s *SQLiteStore) ListConflicts(ctx context.Context) ([]types.ConflictRecord, error) {
	rows, err := s.db.QueryContext(ctx, conflictSelectSQL+` ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := make([]types.ConflictRecord, 0)
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

// GetConflict returns a conflict by ID.
func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*types.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx, conflictSelectSQL+` WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict: %w", err)
	}
	return c, nil
}

// ResolveConflict applies the user's choice in a single transaction: the
// conflict row is deleted and the chosen content is re-enqueued as an UPDATE
// so the normal drain uploads it. Returns the new queue entry ID, or 0 when
// the current tier is LOCAL_ONLY (the enqueue sentinel).
//
// Choosing merged requires mergedPayload; its absence is a contract
// violation and leaves the conflict untouched.
func (s *SQLiteStore) ResolveConflict(ctx context.Context, id string, choice types.Resolution, mergedPayload json.RawMessage) (int64, error) {
	if !choice.Valid() {
		return 0, fmt.Errorf("resolution %q: %w", choice, ErrInvalidArgument)
	}
	if choice == types.ResolutionMerged && len(mergedPayload) == 0 {
		return 0, fmt.Errorf("merged resolution requires a payload: %w", ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, conflictSelectSQL+` WHERE id = ?`, id)
	conflict, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("scan conflict: %w", err)
	}

	var payload json.RawMessage
	switch choice {
	case types.ResolutionLocal:
		payload, err = syncwire.PreEncryptedPayload(conflict.Local)
	case types.ResolutionRemote:
		payload, err = syncwire.PreEncryptedPayload(conflict.Remote)
	case types.ResolutionMerged:
		payload = mergedPayload
	}
	if err != nil {
		return 0, fmt.Errorf("encode resolved payload: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conflicts WHERE id = ?`, id); err != nil {
		return 0, fmt.Errorf("delete conflict: %w", err)
	}

	// Tier gate applies to resolution re-enqueues like any other enqueue.
	tier, err := getMetaTx(ctx, tx, metaTier)
	if err != nil {
		return 0, err
	}
	var queueID int64
	if types.PrivacyTier(tier) != types.TierLocalOnly {
		queueID, err = enqueueTx(ctx, tx, types.OpUpdate, entityTypeForRecord, conflict.RecordID, payload)
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return queueID, nil
}

// DeleteConflict discards a conflict without resolution.
func (s *SQLiteStore) DeleteConflict(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conflicts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conflict: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	return nil
}

// ConflictCount returns the number of unresolved conflicts.
func (s *SQLiteStore) ConflictCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return count, nil
}

// entityTypeForRecord is the logical collection resolved updates target.
const entityTypeForRecord = "entries"

const conflictSelectSQL = `
	SELECT id, record_id,
	       local_content, local_iv, local_tag, local_updated_at, local_device_id,
	       remote_content, remote_iv, remote_tag, remote_updated_at, remote_device_id,
	       detected_at
	FROM conflicts`

func scanConflict(scanner interface{ Scan(...any) error }) (*types.ConflictRecord, error) {
	var c types.ConflictRecord
	var localTag, remoteTag sql.NullString
	var localUpdated, remoteUpdated, detected string

	err := scanner.Scan(
		&c.ID, &c.RecordID,
		&c.Local.EncryptedContent, &c.Local.IV, &localTag, &localUpdated, &c.Local.DeviceID,
		&c.Remote.EncryptedContent, &c.Remote.IV, &remoteTag, &remoteUpdated, &c.Remote.DeviceID,
		&detected,
	)
	if err != nil {
		return nil, err
	}

	c.Local.AuthTag = localTag.String
	c.Remote.AuthTag = remoteTag.String
	if t, err := time.Parse(time.RFC3339Nano, localUpdated); err == nil {
		c.Local.UpdatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, remoteUpdated); err == nil {
		c.Remote.UpdatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, detected); err == nil {
		c.DetectedAt = t
	}

	return &c, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
