// Package sync defines the wire formats exchanged with the remote backup
// endpoint and the payload conventions shared between the outbox and the
// upload transport.
package sync

import (
	"encoding/json"

	"github.com/hyperengineering/satchel/internal/types"
)

// UploadRequest is the body of POST /backup for create and update operations.
type UploadRequest struct {
	ID               string `json:"id"`
	EncryptedContent string `json:"encrypted_content"`
	ContentIV        string `json:"content_iv"`
	ContentTag       string `json:"content_tag,omitempty"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
	DeviceID         string `json:"device_id"`
}

// ConflictResponse is the body of a 409 response: the server's current
// version of the contested record.
type ConflictResponse struct {
	EncryptedContent string `json:"encrypted_content"`
	ContentIV        string `json:"content_iv"`
	ContentTag       string `json:"content_tag,omitempty"`
	UpdatedAt        string `json:"updated_at"`
	DeviceID         string `json:"device_id"`
}

// ResolveRequest is the body of POST /conflicts/{id}/resolve.
type ResolveRequest struct {
	ChosenVersion         string `json:"chosen_version"` // local | remote | merged
	FinalEncryptedContent string `json:"final_encrypted_content,omitempty"`
	FinalIV               string `json:"final_iv,omitempty"`
}

// ListResponse is the body of GET /backup: the IDs of all records the server
// holds for this device's account.
type ListResponse struct {
	RecordIDs []string `json:"record_ids"`
}

// Snapshot is the payload convention for freshly enqueued mutations: an
// opaque record snapshot whose "content" field the transport encrypts before
// upload. Fields other than content travel as-is.
type Snapshot struct {
	Content string `json:"content"`
}

// PreEncrypted is the payload convention for re-enqueued conflict
// resolutions: the content is already encrypted and the transport must
// submit it without touching the cipher again.
type PreEncrypted struct {
	Encrypted types.RecordVersion `json:"encrypted"`
}

// PreEncryptedPayload wraps an encrypted version in the re-enqueue payload
// convention.
func PreEncryptedPayload(v types.RecordVersion) (json.RawMessage, error) {
	return json.Marshal(PreEncrypted{Encrypted: v})
}

// DecodePreEncrypted extracts a pre-encrypted version from a payload, if the
// payload follows the re-enqueue convention. Returns false otherwise.
func DecodePreEncrypted(payload json.RawMessage) (types.RecordVersion, bool) {
	var p PreEncrypted
	if err := json.Unmarshal(payload, &p); err != nil {
		return types.RecordVersion{}, false
	}
	if p.Encrypted.EncryptedContent == "" {
		return types.RecordVersion{}, false
	}
	return p.Encrypted, true
}
