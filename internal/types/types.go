// Package types defines the domain model shared across the sync subsystem:
// outbox queue entries, conflict records, privacy tiers, and persisted sync state.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation a queue entry carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// EntryState is the derived lifecycle state of a queue entry.
type EntryState string

const (
	StatePending EntryState = "pending"
	StateSynced  EntryState = "synced"
	StateFailed  EntryState = "failed"
)

// QueueEntry is one pending mutation in the durable outbox.
// Payload is an opaque snapshot of the record at enqueue time; it is nil for
// delete operations.
type QueueEntry struct {
	ID         int64           `json:"id"`
	Operation  Operation       `json:"operation"`
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	State      EntryState      `json:"state"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// RecordVersion is one side of a write-write conflict: the encrypted content
// of a record as held by a particular device at a particular time.
type RecordVersion struct {
	EncryptedContent string    `json:"encrypted_content"`
	IV               string    `json:"content_iv"`
	AuthTag          string    `json:"content_tag,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	DeviceID         string    `json:"device_id"`
}

// ConflictRecord is a detected write-write collision on one record.
// At most one unresolved ConflictRecord exists per RecordID.
type ConflictRecord struct {
	ID         string        `json:"id"`
	RecordID   string        `json:"record_id"`
	Local      RecordVersion `json:"local_version"`
	Remote     RecordVersion `json:"remote_version"`
	DetectedAt time.Time     `json:"detected_at"`
}

// Resolution is the user's choice when resolving a conflict.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerged Resolution = "merged"
)

// Valid reports whether r is a known resolution choice.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionMerged:
		return true
	}
	return false
}

// PrivacyTier is the user-selected privacy level, ordered by how much data
// leaves the device.
type PrivacyTier string

const (
	TierLocalOnly     PrivacyTier = "local_only"
	TierAnalyticsSync PrivacyTier = "analytics_sync"
	TierFullSync      PrivacyTier = "full_sync"
)

// Rank returns the tier's position in the ordering
// LOCAL_ONLY < ANALYTICS_SYNC < FULL_SYNC. Unknown tiers rank below all
// known ones.
func (t PrivacyTier) Rank() int {
	switch t {
	case TierLocalOnly:
		return 0
	case TierAnalyticsSync:
		return 1
	case TierFullSync:
		return 2
	}
	return -1
}

// Valid reports whether t is a known tier.
func (t PrivacyTier) Valid() bool {
	return t.Rank() >= 0
}

// ParseTier converts a string to a PrivacyTier, rejecting unknown values.
func ParseTier(s string) (PrivacyTier, error) {
	t := PrivacyTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown privacy tier %q", s)
	}
	return t, nil
}

// SyncState is the process-wide persisted sync bookkeeping. It is initialized
// once at first run with a random device ID and survives restarts.
type SyncState struct {
	DeviceID     string      `json:"device_id"`
	Tier         PrivacyTier `json:"privacy_tier"`
	BackendURL   string      `json:"backend_url,omitempty"`
	AuthToken    string      `json:"-"`
	LastSyncTime time.Time   `json:"last_sync_time"`
	LastError    string      `json:"last_error,omitempty"`
}

// LocalRecord is a record held by the local application store, as surfaced by
// the record source collaborator during tier upgrades.
type LocalRecord struct {
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload"`
}

// SyncStatus is the introspection snapshot surfaced to the UI and CLI.
type SyncStatus struct {
	Tier         PrivacyTier `json:"privacy_tier"`
	Pending      int64       `json:"pending"`
	Failed       int64       `json:"failed"`
	Conflicts    int64       `json:"conflicts"`
	Paused       bool        `json:"paused"`
	LastSyncTime time.Time   `json:"last_sync_time"`
	LastError    string      `json:"last_error,omitempty"`
}
