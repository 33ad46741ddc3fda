package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// runCLI executes the root command with the given args and returns stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	outBuf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)
	cliJSONOutput = false

	return outBuf.String(), err
}

func TestStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sync/status" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"privacy_tier":   "full_sync",
			"pending":        2,
			"failed":         1,
			"conflicts":      0,
			"paused":         false,
			"last_sync_time": time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		})
	}))
	defer srv.Close()

	out, err := runCLI(t, "status", "--addr", srv.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "full_sync") {
		t.Errorf("output missing tier: %s", out)
	}
	if !strings.Contains(out, "Pending:    2") {
		t.Errorf("output missing pending count: %s", out)
	}
}

func TestStatusCommand_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"privacy_tier": "local_only"})
	}))
	defer srv.Close()

	out, err := runCLI(t, "status", "--addr", srv.URL, "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if decoded["privacy_tier"] != "local_only" {
		t.Errorf("privacy_tier = %v", decoded["privacy_tier"])
	}
}

func TestQueueListCommand_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"entries": []any{}})
	}))
	defer srv.Close()

	out, err := runCLI(t, "queue", "list", "--addr", srv.URL)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	if !strings.Contains(out, "Queue is empty.") {
		t.Errorf("output = %s", out)
	}
}

func TestTierSetCommand_ReadsCurrentTierFirst(t *testing.T) {
	var putBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tier":
			json.NewEncoder(w).Encode(map[string]string{"privacy_tier": "analytics_sync"})
		case r.Method == http.MethodPut && r.URL.Path == "/api/v1/tier":
			json.NewDecoder(r.Body).Decode(&putBody)
			json.NewEncoder(w).Encode(map[string]string{"privacy_tier": putBody["to"]})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	out, err := runCLI(t, "tier", "set", "full_sync", "--addr", srv.URL)
	if err != nil {
		t.Fatalf("tier set: %v", err)
	}
	if putBody["from"] != "analytics_sync" || putBody["to"] != "full_sync" {
		t.Errorf("put body = %v", putBody)
	}
	if !strings.Contains(out, "analytics_sync -> full_sync") {
		t.Errorf("output = %s", out)
	}
}

func TestTierSetCommand_AlreadyAtTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("no transition expected, got %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"privacy_tier": "full_sync"})
	}))
	defer srv.Close()

	out, err := runCLI(t, "tier", "set", "full_sync", "--addr", srv.URL)
	if err != nil {
		t.Fatalf("tier set: %v", err)
	}
	if !strings.Contains(out, "Already at full_sync.") {
		t.Errorf("output = %s", out)
	}
}

func TestConflictDiscardCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || !strings.HasPrefix(r.URL.Path, "/api/v1/conflicts/") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	out, err := runCLI(t, "conflict", "discard", "01HQZX3V8N9GJKMP2R4S6T8V0W", "--addr", srv.URL)
	if err != nil {
		t.Fatalf("conflict discard: %v", err)
	}
	if !strings.Contains(out, "Conflict discarded.") {
		t.Errorf("output = %s", out)
	}
}

func TestSyncCommand_SurfacesDaemonConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"title":  "Conflict",
			"status": 409,
			"detail": "sync paused pending re-authentication",
		})
	}))
	defer srv.Close()

	_, err := runCLI(t, "sync", "--addr", srv.URL)
	if err == nil {
		t.Fatal("expected error from paused daemon")
	}
	if !strings.Contains(err.Error(), "paused") {
		t.Errorf("error = %v", err)
	}
}
