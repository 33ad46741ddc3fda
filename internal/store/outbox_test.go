package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/hyperengineering/satchel/internal/types"
)

func TestEnqueue_LocalOnlyIsSilentNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Enqueue(ctx, types.OpCreate, "entries", "r1", json.RawMessage(`{"content":"hello"}`))
	if err != nil {
		t.Fatalf("Enqueue at LOCAL_ONLY: %v", err)
	}
	if id != 0 {
		t.Errorf("expected sentinel id 0, got %d", id)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending rows, got %d", len(pending))
	}
}

func TestEnqueue_PreservesFIFOOrderPerRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	ops := []types.Operation{types.OpCreate, types.OpUpdate, types.OpUpdate, types.OpDelete}
	for i, op := range ops {
		var payload json.RawMessage
		if op != types.OpDelete {
			payload = json.RawMessage(fmt.Sprintf(`{"content":"v%d"}`, i))
		}
		if _, err := s.Enqueue(ctx, op, "entries", "r1", payload); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != len(ops) {
		t.Fatalf("expected %d pending entries, got %d", len(ops), len(pending))
	}
	for i, entry := range pending {
		if entry.Operation != ops[i] {
			t.Errorf("entry %d: expected operation %q, got %q", i, ops[i], entry.Operation)
		}
		if i > 0 && pending[i].ID <= pending[i-1].ID {
			t.Errorf("entries out of enqueue order: %d after %d", pending[i].ID, pending[i-1].ID)
		}
	}
}

func TestEnqueue_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	tests := []struct {
		name     string
		op       types.Operation
		recordID string
		payload  json.RawMessage
	}{
		{"unknown operation", types.Operation("upsert"), "r1", json.RawMessage(`{}`)},
		{"create without payload", types.OpCreate, "r1", nil},
		{"update without payload", types.OpUpdate, "r1", nil},
		{"missing record id", types.OpCreate, "", json.RawMessage(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Enqueue(ctx, tt.op, "entries", tt.recordID, tt.payload)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}

	// DELETE legitimately has no payload.
	if _, err := s.Enqueue(ctx, types.OpDelete, "entries", "r1", nil); err != nil {
		t.Errorf("Enqueue delete without payload: %v", err)
	}
}

func TestMarkSynced_RemovesFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	id, err := s.Enqueue(ctx, types.OpCreate, "entries", "r1", json.RawMessage(`{"content":"hello"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := s.MarkSynced(ctx, id); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending entries after MarkSynced, got %d", len(pending))
	}

	// Terminal entries cannot be re-marked.
	if err := s.MarkSynced(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound re-marking synced entry, got %v", err)
	}
}

func TestIncrementRetry_CountsAndRecordsReason(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	id, err := s.Enqueue(ctx, types.OpUpdate, "entries", "r1", json.RawMessage(`{"content":"x"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := s.IncrementRetry(ctx, id, "connection refused")
		if err != nil {
			t.Fatalf("IncrementRetry #%d: %v", want, err)
		}
		if got != want {
			t.Errorf("IncrementRetry = %d, want %d", got, want)
		}
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 3 {
		t.Fatalf("expected one pending entry with retry count 3, got %+v", pending)
	}
	if pending[0].LastError != "connection refused" {
		t.Errorf("expected recorded failure reason, got %q", pending[0].LastError)
	}

	if _, err := s.IncrementRetry(ctx, 9999, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown entry, got %v", err)
	}
}

func TestMarkFailed_ExcludedFromPendingButInspectable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	id, err := s.Enqueue(ctx, types.OpUpdate, "entries", "r1", json.RawMessage(`{"content":"x"}`))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := s.MarkFailed(ctx, id, "upload rejected: 422"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("failed entry still listed as pending")
	}

	_, failed, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if failed != 1 {
		t.Errorf("expected 1 failed entry, got %d", failed)
	}
}

func TestPurgeCompleted_KeepsPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	syncedID, _ := s.Enqueue(ctx, types.OpCreate, "entries", "r1", json.RawMessage(`{"content":"a"}`))
	failedID, _ := s.Enqueue(ctx, types.OpCreate, "entries", "r2", json.RawMessage(`{"content":"b"}`))
	if _, err := s.Enqueue(ctx, types.OpCreate, "entries", "r3", json.RawMessage(`{"content":"c"}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := s.MarkSynced(ctx, syncedID); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := s.MarkFailed(ctx, failedID, "rejected"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	purged, err := s.PurgeCompleted(ctx)
	if err != nil {
		t.Fatalf("PurgeCompleted: %v", err)
	}
	if purged != 2 {
		t.Errorf("expected 2 purged rows, got %d", purged)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].RecordID != "r3" {
		t.Errorf("expected pending entry for r3 to survive purge, got %+v", pending)
	}
}
