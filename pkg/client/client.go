// Package client is a Go client for the satchel control API. It is the
// programmatic counterpart of the CLI and talks to the local daemon over
// loopback HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the daemon's address, e.g. "http://127.0.0.1:7433".
	BaseURL string

	// APIToken authenticates against the control API.
	APIToken string

	// Timeout bounds each request. Defaults to 10 seconds.
	Timeout time.Duration
}

// Client talks to a running satchel daemon.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a new control API client.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL: config.BaseURL,
		token:   config.APIToken,
		http:    &http.Client{Timeout: config.Timeout},
	}, nil
}

// APIError is a non-2xx response decoded from the daemon's RFC 7807 body.
type APIError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%d): %s", e.Title, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s (%d)", e.Title, e.Status)
}

// Health is the daemon's health report.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	DeviceID string `json:"device_id"`
}

// SyncStatus is the sync introspection snapshot.
type SyncStatus struct {
	Tier         string    `json:"privacy_tier"`
	Pending      int64     `json:"pending"`
	Failed       int64     `json:"failed"`
	Conflicts    int64     `json:"conflicts"`
	Paused       bool      `json:"paused"`
	LastSyncTime time.Time `json:"last_sync_time"`
	LastError    string    `json:"last_error,omitempty"`
}

// QueueEntry is one outbox entry as reported by the daemon.
type QueueEntry struct {
	ID         int64           `json:"id"`
	Operation  string          `json:"operation"`
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	State      string          `json:"state"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// RecordVersion is one side of a write-write conflict.
type RecordVersion struct {
	EncryptedContent string    `json:"encrypted_content"`
	IV               string    `json:"content_iv"`
	AuthTag          string    `json:"content_tag,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	DeviceID         string    `json:"device_id"`
}

// Conflict is a detected write-write collision awaiting resolution.
type Conflict struct {
	ID         string        `json:"id"`
	RecordID   string        `json:"record_id"`
	Local      RecordVersion `json:"local_version"`
	Remote     RecordVersion `json:"remote_version"`
	DetectedAt time.Time     `json:"detected_at"`
}

// EnqueueParams describes a mutation to queue for upload.
type EnqueueParams struct {
	Operation  string          `json:"operation"`
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EnqueueResult reports the queued entry. Skipped is true when the daemon is
// at the LOCAL_ONLY tier and nothing was queued.
type EnqueueResult struct {
	ID      int64 `json:"id"`
	Skipped bool  `json:"skipped"`
}

// ResolveParams is a conflict resolution choice.
type ResolveParams struct {
	Choice        string          `json:"choice"`
	MergedPayload json.RawMessage `json:"merged_payload,omitempty"`
}

// ResolveResult reports the queue entry created for the winning version.
type ResolveResult struct {
	QueueID int64 `json:"queue_id"`
}

// Health returns the daemon's health status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the sync status snapshot.
func (c *Client) Status(ctx context.Context) (*SyncStatus, error) {
	var out SyncStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncNow triggers an immediate drain cycle.
func (c *Client) SyncNow(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sync/now", nil, nil)
}

// Enqueue queues a mutation for upload.
func (c *Client) Enqueue(ctx context.Context, params EnqueueParams) (*EnqueueResult, error) {
	var out EnqueueResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/queue", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Queue lists pending outbox entries.
func (c *Client) Queue(ctx context.Context) ([]QueueEntry, error) {
	var out struct {
		Entries []QueueEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/queue", nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// PurgeCompleted removes synced and failed entries. Returns the count removed.
func (c *Client) PurgeCompleted(ctx context.Context) (int64, error) {
	var out struct {
		Purged int64 `json:"purged"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/queue/completed", nil, &out); err != nil {
		return 0, err
	}
	return out.Purged, nil
}

// Conflicts lists unresolved conflicts.
func (c *Client) Conflicts(ctx context.Context) ([]Conflict, error) {
	var out struct {
		Conflicts []Conflict `json:"conflicts"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/conflicts", nil, &out); err != nil {
		return nil, err
	}
	return out.Conflicts, nil
}

// Conflict fetches a single conflict by ID.
func (c *Client) Conflict(ctx context.Context, id string) (*Conflict, error) {
	var out Conflict
	if err := c.do(ctx, http.MethodGet, "/api/v1/conflicts/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Resolve applies a resolution choice to a conflict.
func (c *Client) Resolve(ctx context.Context, id string, params ResolveParams) (*ResolveResult, error) {
	var out ResolveResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/conflicts/"+id+"/resolve", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Discard drops a conflict without resolving it.
func (c *Client) Discard(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/conflicts/"+id, nil, nil)
}

// Tier returns the current privacy tier.
func (c *Client) Tier(ctx context.Context) (string, error) {
	var out struct {
		Tier string `json:"privacy_tier"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/tier", nil, &out); err != nil {
		return "", err
	}
	return out.Tier, nil
}

// SetTier requests a transition from one privacy tier to another. The from
// value must match the daemon's current tier.
func (c *Client) SetTier(ctx context.Context, from, to string) error {
	body := struct {
		From string `json:"from"`
		To   string `json:"to"`
	}{From: from, To: to}
	return c.do(ctx, http.MethodPut, "/api/v1/tier", body, nil)
}

// SetAuthToken stores a fresh backend token and resumes sync if paused.
func (c *Client) SetAuthToken(ctx context.Context, token string) error {
	body := struct {
		Token string `json:"token"`
	}{Token: token}
	return c.do(ctx, http.MethodPost, "/api/v1/auth/token", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(data) > 0 {
		// Best effort; a non-problem body leaves the defaults in place.
		_ = json.Unmarshal(data, apiErr)
	}
	return apiErr
}
