package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hyperengineering/satchel/internal/types"
)

// ListRecords returns the latest known content of every record the outbox has
// seen, skipping records whose most recent operation is a delete. It backs
// tier upgrades when no richer application record source is attached: on an
// upgrade to FULL_SYNC these are the records re-enqueued for upload.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]types.LocalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.entity_type, o.record_id, o.payload
		FROM outbox o
		JOIN (
			SELECT record_id, MAX(id) AS max_id FROM outbox GROUP BY record_id
		) latest ON o.id = latest.max_id
		WHERE o.operation != 'delete'
		ORDER BY o.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query known records: %w", err)
	}
	defer rows.Close()

	records := make([]types.LocalRecord, 0)
	for rows.Next() {
		var rec types.LocalRecord
		var payload sql.NullString
		if err := rows.Scan(&rec.EntityType, &rec.RecordID, &payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if payload.Valid {
			rec.Payload = json.RawMessage(payload.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
