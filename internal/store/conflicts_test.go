package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	syncwire "github.com/hyperengineering/satchel/internal/sync"
	"github.com/hyperengineering/satchel/internal/types"
)

func testVersion(content, device string) types.RecordVersion {
	return types.RecordVersion{
		EncryptedContent: content,
		IV:               "aXY=",
		AuthTag:          "dGFn",
		UpdatedAt:        time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		DeviceID:         device,
	}
}

func TestRecordConflict_UpsertReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.RecordConflict(ctx, "r1", testVersion("bG9jYWwx", "dev-a"), testVersion("cmVtb3RlMQ==", "dev-b"))
	if err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	second, err := s.RecordConflict(ctx, "r1", testVersion("bG9jYWwy", "dev-a"), testVersion("cmVtb3RlMg==", "dev-b"))
	if err != nil {
		t.Fatalf("RecordConflict (replace): %v", err)
	}
	if first == second {
		t.Error("expected a fresh conflict id on re-detection")
	}

	conflicts, err := s.ListConflicts(ctx)
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly one conflict for r1, got %d", len(conflicts))
	}
	if conflicts[0].ID != second {
		t.Errorf("expected surviving conflict %s, got %s", second, conflicts[0].ID)
	}
	if conflicts[0].Remote.EncryptedContent != "cmVtb3RlMg==" {
		t.Errorf("expected last detection to win, got remote content %q", conflicts[0].Remote.EncryptedContent)
	}

	// The first id no longer resolves.
	if _, err := s.GetConflict(ctx, first); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for replaced conflict, got %v", err)
	}
}

func TestGetConflict_RoundTripsVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	local := testVersion("bG9jYWw=", "dev-a")
	remote := testVersion("cmVtb3Rl", "dev-b")
	id, err := s.RecordConflict(ctx, "r1", local, remote)
	if err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	got, err := s.GetConflict(ctx, id)
	if err != nil {
		t.Fatalf("GetConflict: %v", err)
	}
	if got.RecordID != "r1" {
		t.Errorf("record id = %q, want r1", got.RecordID)
	}
	if got.Local != local {
		t.Errorf("local version = %+v, want %+v", got.Local, local)
	}
	if got.Remote != remote {
		t.Errorf("remote version = %+v, want %+v", got.Remote, remote)
	}
	if got.DetectedAt.IsZero() {
		t.Error("expected DetectedAt to be set")
	}
}

func TestResolveConflict_LocalChoiceReenqueuesUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	local := testVersion("bG9jYWw=", "dev-a")
	id, err := s.RecordConflict(ctx, "r1", local, testVersion("cmVtb3Rl", "dev-b"))
	if err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	queueID, err := s.ResolveConflict(ctx, id, types.ResolutionLocal, nil)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if queueID == 0 {
		t.Fatal("expected a re-enqueued update, got sentinel 0")
	}

	if _, err := s.GetConflict(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected conflict to be deleted, got %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending entry, got %d", len(pending))
	}
	entry := pending[0]
	if entry.Operation != types.OpUpdate || entry.RecordID != "r1" {
		t.Errorf("expected UPDATE for r1, got %s for %s", entry.Operation, entry.RecordID)
	}
	version, ok := syncwire.DecodePreEncrypted(entry.Payload)
	if !ok {
		t.Fatalf("expected pre-encrypted payload, got %s", entry.Payload)
	}
	if version != local {
		t.Errorf("re-enqueued version = %+v, want local %+v", version, local)
	}
}

func TestResolveConflict_MergedRequiresPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	id, err := s.RecordConflict(ctx, "r1", testVersion("bG9jYWw=", "dev-a"), testVersion("cmVtb3Rl", "dev-b"))
	if err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	if _, err := s.ResolveConflict(ctx, id, types.ResolutionMerged, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for merged without payload, got %v", err)
	}

	// The conflict must be untouched.
	if _, err := s.GetConflict(ctx, id); err != nil {
		t.Errorf("conflict should survive a rejected resolution: %v", err)
	}

	merged := json.RawMessage(`{"content":"merged text"}`)
	queueID, err := s.ResolveConflict(ctx, id, types.ResolutionMerged, merged)
	if err != nil {
		t.Fatalf("ResolveConflict merged: %v", err)
	}
	if queueID == 0 {
		t.Fatal("expected a re-enqueued update")
	}

	pending, _ := s.ListPending(ctx)
	if len(pending) != 1 || string(pending[0].Payload) != string(merged) {
		t.Errorf("expected merged payload to be enqueued verbatim, got %+v", pending)
	}
}

func TestResolveConflict_UnknownIDAndChoice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ResolveConflict(ctx, "01JUNKJUNKJUNKJUNKJUNKJUNK", types.ResolutionLocal, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.ResolveConflict(ctx, "whatever", types.Resolution("theirs"), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestResolveConflict_LocalOnlyTierSkipsReenqueue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordConflict(ctx, "r1", testVersion("bG9jYWw=", "dev-a"), testVersion("cmVtb3Rl", "dev-b"))
	if err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	queueID, err := s.ResolveConflict(ctx, id, types.ResolutionRemote, nil)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if queueID != 0 {
		t.Errorf("expected enqueue sentinel at LOCAL_ONLY, got %d", queueID)
	}

	pending, _ := s.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected no pending entries at LOCAL_ONLY, got %d", len(pending))
	}
}

func TestDeleteConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.RecordConflict(ctx, "r1", testVersion("bG9jYWw=", "dev-a"), testVersion("cmVtb3Rl", "dev-b"))
	if err != nil {
		t.Fatalf("RecordConflict: %v", err)
	}

	if err := s.DeleteConflict(ctx, id); err != nil {
		t.Fatalf("DeleteConflict: %v", err)
	}
	if err := s.DeleteConflict(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}

	count, err := s.ConflictCount(ctx)
	if err != nil {
		t.Fatalf("ConflictCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 conflicts, got %d", count)
	}
}
