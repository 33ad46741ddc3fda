package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/hyperengineering/satchel/internal/types"
)

func TestSyncState_Setters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)
	if err := s.SetLastSync(ctx, now); err != nil {
		t.Fatalf("SetLastSync: %v", err)
	}
	if err := s.SetLastError(ctx, "upload failed: 503"); err != nil {
		t.Fatalf("SetLastError: %v", err)
	}
	if err := s.SetAuthToken(ctx, "tok-123"); err != nil {
		t.Fatalf("SetAuthToken: %v", err)
	}
	if err := s.SetBackendURL(ctx, "https://backup.example.com"); err != nil {
		t.Fatalf("SetBackendURL: %v", err)
	}

	state, err := s.GetSyncState(ctx)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if !state.LastSyncTime.Equal(now) {
		t.Errorf("LastSyncTime = %v, want %v", state.LastSyncTime, now)
	}
	if state.LastError != "upload failed: 503" {
		t.Errorf("LastError = %q", state.LastError)
	}
	if state.AuthToken != "tok-123" {
		t.Errorf("AuthToken = %q", state.AuthToken)
	}
	if state.BackendURL != "https://backup.example.com" {
		t.Errorf("BackendURL = %q", state.BackendURL)
	}

	// Clearing the error leaves an empty string.
	if err := s.SetLastError(ctx, ""); err != nil {
		t.Fatalf("SetLastError clear: %v", err)
	}
	state, _ = s.GetSyncState(ctx)
	if state.LastError != "" {
		t.Errorf("expected cleared error, got %q", state.LastError)
	}
}

func TestUpgradeTier_EnqueuesRecordsAtomically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []types.LocalRecord{
		{EntityType: "entries", RecordID: "r1", Payload: json.RawMessage(`{"content":"one"}`)},
		{EntityType: "entries", RecordID: "r2", Payload: json.RawMessage(`{"content":"two"}`)},
	}

	enqueued, err := s.UpgradeTier(ctx, types.TierFullSync, records)
	if err != nil {
		t.Fatalf("UpgradeTier: %v", err)
	}
	if enqueued != 2 {
		t.Errorf("enqueued = %d, want 2", enqueued)
	}

	state, err := s.GetSyncState(ctx)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if state.Tier != types.TierFullSync {
		t.Errorf("tier = %q, want %q", state.Tier, types.TierFullSync)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending updates, got %d", len(pending))
	}
	for _, entry := range pending {
		if entry.Operation != types.OpUpdate {
			t.Errorf("expected UPDATE, got %q", entry.Operation)
		}
	}
}

func TestDowngradeTier_ToLocalOnlyDropsPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	syncedID, _ := s.Enqueue(ctx, types.OpCreate, "entries", "r1", json.RawMessage(`{"content":"a"}`))
	if _, err := s.Enqueue(ctx, types.OpUpdate, "entries", "r2", json.RawMessage(`{"content":"b"}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := s.MarkSynced(ctx, syncedID); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	if err := s.DowngradeTier(ctx, types.TierLocalOnly); err != nil {
		t.Fatalf("DowngradeTier: %v", err)
	}

	state, _ := s.GetSyncState(ctx)
	if state.Tier != types.TierLocalOnly {
		t.Errorf("tier = %q, want %q", state.Tier, types.TierLocalOnly)
	}

	pending, _ := s.ListPending(ctx)
	if len(pending) != 0 {
		t.Errorf("expected pending uploads dropped, got %d", len(pending))
	}

	// Terminal history is untouched.
	p, f, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatalf("QueueCounts: %v", err)
	}
	if p != 0 || f != 0 {
		t.Errorf("counts = pending %d failed %d", p, f)
	}
}

func TestDowngradeTier_ToAnalyticsKeepsPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	setTier(t, s, types.TierFullSync)

	if _, err := s.Enqueue(ctx, types.OpCreate, "entries", "r1", json.RawMessage(`{"content":"a"}`)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := s.DowngradeTier(ctx, types.TierAnalyticsSync); err != nil {
		t.Fatalf("DowngradeTier: %v", err)
	}

	pending, _ := s.ListPending(ctx)
	if len(pending) != 1 {
		t.Errorf("expected pending entry to survive analytics downgrade, got %d", len(pending))
	}
}
