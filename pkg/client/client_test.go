package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, APIToken: "cli-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for missing BaseURL")
	}
}

func TestClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(SyncStatus{Tier: "full_sync"})
	})

	if _, err := c.Status(context.Background()); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if gotAuth != "Bearer cli-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClient_Status(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sync/status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SyncStatus{Tier: "full_sync", Pending: 2, Paused: true})
	})

	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Pending != 2 || !status.Paused {
		t.Errorf("status = %+v", status)
	}
}

func TestClient_Enqueue(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/queue" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var params EnqueueParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if params.Operation != "create" || params.RecordID != "rec-1" {
			t.Errorf("params = %+v", params)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(EnqueueResult{ID: 7})
	})

	result, err := c.Enqueue(context.Background(), EnqueueParams{
		Operation:  "create",
		EntityType: "entries",
		RecordID:   "rec-1",
		Payload:    json.RawMessage(`{"a":1}`),
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if result.ID != 7 || result.Skipped {
		t.Errorf("result = %+v", result)
	}
}

func TestClient_Resolve(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/conflicts/01HQZX3V8N9GJKMP2R4S6T8V0W/resolve" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(ResolveResult{QueueID: 12})
	})

	result, err := c.Resolve(context.Background(), "01HQZX3V8N9GJKMP2R4S6T8V0W", ResolveParams{Choice: "remote"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if result.QueueID != 12 {
		t.Errorf("queue_id = %d", result.QueueID)
	}
}

func TestClient_SetTier(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/v1/tier" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["from"] != "full_sync" || body["to"] != "local_only" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"privacy_tier": "local_only"})
	})

	if err := c.SetTier(context.Background(), "full_sync", "local_only"); err != nil {
		t.Fatalf("SetTier: %v", err)
	}
}

func TestClient_DecodesProblemBody(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"type":   "https://satchel.dev/errors/conflict",
			"title":  "Conflict",
			"status": 409,
			"detail": "drain already in progress",
		})
	})

	err := c.SyncNow(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != 409 {
		t.Errorf("status = %d, want 409", apiErr.Status)
	}
	if apiErr.Detail != "drain already in progress" {
		t.Errorf("detail = %q", apiErr.Detail)
	}
}

func TestClient_NonProblemErrorBody(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain text failure", http.StatusInternalServerError)
	})

	err := c.SyncNow(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != 500 || apiErr.Title != "Internal Server Error" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestClient_NoContentResponse(t *testing.T) {
	_, c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.SetAuthToken(context.Background(), "fresh"); err != nil {
		t.Fatalf("SetAuthToken: %v", err)
	}
}
