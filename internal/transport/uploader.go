// Package transport uploads outbox entries to the remote backup endpoint and
// classifies every response into an outcome the orchestrator can act on.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hyperengineering/satchel/internal/crypto"
	syncwire "github.com/hyperengineering/satchel/internal/sync"
	"github.com/hyperengineering/satchel/internal/types"
)

// OutcomeKind classifies the result of one upload attempt.
type OutcomeKind string

const (
	// OutcomeSuccess means the server accepted the mutation.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeConflict means the server holds a newer version of the record.
	OutcomeConflict OutcomeKind = "conflict"
	// OutcomeRetryable means the attempt failed transiently and may be retried.
	OutcomeRetryable OutcomeKind = "retryable"
	// OutcomeFatal means retrying the same request cannot succeed.
	OutcomeFatal OutcomeKind = "fatal"
)

// FatalKind narrows a fatal outcome for the orchestrator's error handling.
type FatalKind string

const (
	// FatalAuthRequired means the auth token was rejected. Sync pauses until
	// the user re-authenticates.
	FatalAuthRequired FatalKind = "auth_required"
	// FatalTierViolation means the server refused the upload for this
	// account's privacy tier.
	FatalTierViolation FatalKind = "tier_violation"
	// FatalRejected means the server permanently rejected the request body.
	FatalRejected FatalKind = "rejected"
)

// Outcome is the classified result of one upload attempt. For conflicts,
// Local is the version this device just submitted and Remote is the server's
// current version, both encrypted.
type Outcome struct {
	Kind   OutcomeKind
	Fatal  FatalKind
	Local  *types.RecordVersion
	Remote *types.RecordVersion
	Reason string
}

// Cipher seals plaintext record content for upload.
type Cipher interface {
	Encrypt(plaintext []byte) (crypto.Sealed, error)
}

// TokenFunc supplies the current bearer token for each request.
type TokenFunc func(ctx context.Context) (string, error)

// Client talks to the remote backup endpoint.
type Client struct {
	baseURL  string
	deviceID string
	token    TokenFunc
	cipher   Cipher
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the default 30s per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient creates a transport client for the given backend.
func NewClient(baseURL, deviceID string, token TokenFunc, cipher Cipher, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		deviceID: deviceID,
		token:    token,
		cipher:   cipher,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload submits one outbox entry and classifies the server's response.
// Network errors never surface as Go errors; they come back as retryable
// outcomes so the orchestrator's retry accounting stays in one place. The
// error return is reserved for local failures such as encryption.
func (c *Client) Upload(ctx context.Context, entry types.QueueEntry) (Outcome, error) {
	if entry.Operation == types.OpDelete {
		return c.uploadDelete(ctx, entry)
	}
	return c.uploadContent(ctx, entry)
}

func (c *Client) uploadDelete(ctx context.Context, entry types.QueueEntry) (Outcome, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, "/backup/"+entry.RecordID, nil)
	if err != nil {
		return Outcome{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return retryable(fmt.Sprintf("delete %s: %v", entry.RecordID, err)), nil
	}
	defer resp.Body.Close()

	// A record the server never saw is already deleted.
	if resp.StatusCode == http.StatusNotFound {
		return Outcome{Kind: OutcomeSuccess}, nil
	}
	return c.classify(resp, nil), nil
}

func (c *Client) uploadContent(ctx context.Context, entry types.QueueEntry) (Outcome, error) {
	wire, local, err := c.buildUploadRequest(entry)
	if err != nil {
		return Outcome{}, err
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode upload request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/backup", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return retryable(fmt.Sprintf("upload %s: %v", entry.RecordID, err)), nil
	}
	defer resp.Body.Close()

	return c.classify(resp, &local), nil
}

// buildUploadRequest produces the wire request for an entry, encrypting fresh
// snapshots and passing re-enqueued resolutions through untouched.
func (c *Client) buildUploadRequest(entry types.QueueEntry) (syncwire.UploadRequest, types.RecordVersion, error) {
	if version, ok := syncwire.DecodePreEncrypted(entry.Payload); ok {
		wire := syncwire.UploadRequest{
			ID:               entry.RecordID,
			EncryptedContent: version.EncryptedContent,
			ContentIV:        version.IV,
			ContentTag:       version.AuthTag,
			CreatedAt:        entry.EnqueuedAt.UTC().Format(time.RFC3339Nano),
			UpdatedAt:        version.UpdatedAt.UTC().Format(time.RFC3339Nano),
			DeviceID:         c.deviceID,
		}
		return wire, version, nil
	}

	var snapshot syncwire.Snapshot
	if err := json.Unmarshal(entry.Payload, &snapshot); err != nil {
		return syncwire.UploadRequest{}, types.RecordVersion{}, fmt.Errorf("decode snapshot payload: %w", err)
	}

	sealed, err := c.cipher.Encrypt([]byte(snapshot.Content))
	if err != nil {
		return syncwire.UploadRequest{}, types.RecordVersion{}, fmt.Errorf("encrypt record content: %w", err)
	}

	updatedAt := entry.EnqueuedAt.UTC()
	wire := syncwire.UploadRequest{
		ID:               entry.RecordID,
		EncryptedContent: sealed.EncodedCiphertext(),
		ContentIV:        sealed.EncodedIV(),
		ContentTag:       sealed.EncodedTag(),
		CreatedAt:        updatedAt.Format(time.RFC3339Nano),
		UpdatedAt:        updatedAt.Format(time.RFC3339Nano),
		DeviceID:         c.deviceID,
	}
	local := types.RecordVersion{
		EncryptedContent: wire.EncryptedContent,
		IV:               wire.ContentIV,
		AuthTag:          wire.ContentTag,
		UpdatedAt:        updatedAt,
		DeviceID:         c.deviceID,
	}
	return wire, local, nil
}

// ListRecordIDs returns the IDs of every record the server holds for this
// device's account.
func (c *Client) ListRecordIDs(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/backup", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list records: %s", responseReason(resp))
	}

	var list syncwire.ListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode record list: %w", err)
	}
	return list.RecordIDs, nil
}

// DeleteRecord removes one record from the server. A 404 counts as deleted.
func (c *Client) DeleteRecord(ctx context.Context, recordID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/backup/"+recordID, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", recordID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	}
	return fmt.Errorf("delete record %s: %s", recordID, responseReason(resp))
}

// AckResolution notifies the server that a conflict was resolved locally.
func (c *Client) AckResolution(ctx context.Context, conflictID string, resolve syncwire.ResolveRequest) error {
	body, err := json.Marshal(resolve)
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/conflicts/"+conflictID+"/resolve", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ack resolution %s: %w", conflictID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ack resolution %s: %s", conflictID, responseReason(resp))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	token, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve auth token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// classify maps a server response to an outcome. local is the version this
// device just submitted, attached to conflict outcomes so the conflict record
// can carry both sides.
func (c *Client) classify(resp *http.Response, local *types.RecordVersion) Outcome {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{Kind: OutcomeSuccess}

	case resp.StatusCode == http.StatusConflict:
		remote, err := decodeConflict(resp.Body)
		if err != nil {
			return retryable(fmt.Sprintf("malformed conflict response: %v", err))
		}
		return Outcome{Kind: OutcomeConflict, Local: local, Remote: &remote}

	case resp.StatusCode == http.StatusUnauthorized:
		return fatal(FatalAuthRequired, responseReason(resp))

	case resp.StatusCode == http.StatusForbidden:
		return fatal(FatalTierViolation, responseReason(resp))

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fatal(FatalRejected, responseReason(resp))
	}
	return retryable(responseReason(resp))
}

func decodeConflict(body io.Reader) (types.RecordVersion, error) {
	var cr syncwire.ConflictResponse
	if err := json.NewDecoder(body).Decode(&cr); err != nil {
		return types.RecordVersion{}, err
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, cr.UpdatedAt)
	if err != nil {
		return types.RecordVersion{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return types.RecordVersion{
		EncryptedContent: cr.EncryptedContent,
		IV:               cr.ContentIV,
		AuthTag:          cr.ContentTag,
		UpdatedAt:        updatedAt,
		DeviceID:         cr.DeviceID,
	}, nil
}

func responseReason(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(bytes.TrimSpace(body)) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(body))
}

func retryable(reason string) Outcome {
	return Outcome{Kind: OutcomeRetryable, Reason: reason}
}

func fatal(kind FatalKind, reason string) Outcome {
	return Outcome{Kind: OutcomeFatal, Fatal: kind, Reason: reason}
}
