package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/satchel/internal/types"
)

const insertOutboxSQL = `
	INSERT INTO outbox (operation, entity_type, record_id, payload, enqueued_at)
	VALUES (?, ?, ?, ?, ?)`

// execer abstracts *sql.DB and *sql.Tx for helpers shared across transactions.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// enqueueTx inserts a queue entry using the given executor.
// Callers are responsible for tier gating.
func enqueueTx(ctx context.Context, e execer, op types.Operation, entityType, recordID string, payload json.RawMessage) (int64, error) {
	result, err := e.ExecContext(ctx, insertOutboxSQL,
		string(op), entityType, recordID, nullablePayload(payload),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("insert outbox entry: %w", err)
	}
	return result.LastInsertId()
}

// Enqueue appends a mutation to the outbox. When the current privacy tier is
// LOCAL_ONLY it returns (0, nil): sync is a no-op by design and callers must
// not treat the sentinel as an error.
func (s *SQLiteStore) Enqueue(ctx context.Context, op types.Operation, entityType, recordID string, payload json.RawMessage) (int64, error) {
	if !op.Valid() {
		return 0, fmt.Errorf("operation %q: %w", op, ErrInvalidArgument)
	}
	if op != types.OpDelete && len(payload) == 0 {
		return 0, fmt.Errorf("payload required for %s: %w", op, ErrInvalidArgument)
	}
	if recordID == "" {
		return 0, fmt.Errorf("record id required: %w", ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	tier, err := getMetaTx(ctx, tx, metaTier)
	if err != nil {
		return 0, err
	}
	if types.PrivacyTier(tier) == types.TierLocalOnly {
		slog.Debug("enqueue skipped at LOCAL_ONLY tier",
			"component", "outbox",
			"record_id", recordID,
		)
		return 0, nil
	}

	id, err := enqueueTx(ctx, tx, op, entityType, recordID, payload)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// ListPending returns all pending entries in enqueue order.
// IDs are monotonic and assigned at enqueue time, so ordering by id is
// equivalent to ordering by enqueued_at and immune to timestamp ties.
func (s *SQLiteStore) ListPending(ctx context.Context) ([]types.QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, entity_type, record_id, payload, state, retry_count, last_error, enqueued_at
		FROM outbox
		WHERE state = 'pending'
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query pending entries: %w", err)
	}
	defer rows.Close()

	entries := make([]types.QueueEntry, 0)
	for rows.Next() {
		entry, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// MarkSynced transitions a pending entry to the synced terminal state.
func (s *SQLiteStore) MarkSynced(ctx context.Context, id int64) error {
	return s.setEntryState(ctx, id, types.StateSynced)
}

// MarkFailed transitions a pending entry to the failed terminal state and
// records the final failure reason. The entry remains inspectable until
// explicitly purged.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET state = 'failed', last_error = ? WHERE id = ? AND state = 'pending'
	`, reason, id)
	if err != nil {
		return fmt.Errorf("update entry state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pending entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) setEntryState(ctx context.Context, id int64, state types.EntryState) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE outbox SET state = ? WHERE id = ? AND state = 'pending'
	`, string(state), id)
	if err != nil {
		return fmt.Errorf("update entry state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("pending entry %d: %w", id, ErrNotFound)
	}
	return nil
}

// IncrementRetry bumps the retry counter for a pending entry and records the
// failure reason. Returns the new retry count.
func (s *SQLiteStore) IncrementRetry(ctx context.Context, id int64, reason string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE outbox SET retry_count = retry_count + 1, last_error = ?
		WHERE id = ? AND state = 'pending'
	`, reason, id)
	if err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("pending entry %d: %w", id, ErrNotFound)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT retry_count FROM outbox WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return count, nil
}

// PurgeCompleted deletes entries in terminal states (synced or failed).
// Pending entries are never purged. Returns the number of rows removed.
func (s *SQLiteStore) PurgeCompleted(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE state IN ('synced', 'failed')
	`)
	if err != nil {
		return 0, fmt.Errorf("purge completed entries: %w", err)
	}
	return result.RowsAffected()
}

// QueueCounts returns the number of pending and failed entries.
func (s *SQLiteStore) QueueCounts(ctx context.Context) (pending, failed int64, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN state = 'pending' THEN 1 END),
			COUNT(CASE WHEN state = 'failed' THEN 1 END)
		FROM outbox
	`).Scan(&pending, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("count queue entries: %w", err)
	}
	return pending, failed, nil
}

// scanQueueEntry scans one outbox row.
func scanQueueEntry(scanner interface{ Scan(...any) error }) (*types.QueueEntry, error) {
	var entry types.QueueEntry
	var op, state, enqueuedAt string
	var payload sql.NullString

	err := scanner.Scan(
		&entry.ID,
		&op,
		&entry.EntityType,
		&entry.RecordID,
		&payload,
		&state,
		&entry.RetryCount,
		&entry.LastError,
		&enqueuedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Operation = types.Operation(op)
	entry.State = types.EntryState(state)
	if payload.Valid {
		entry.Payload = json.RawMessage(payload.String)
	}
	if t, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
		entry.EnqueuedAt = t
	}

	return &entry, nil
}

// nullablePayload converts a json.RawMessage to a sql-friendly value.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
