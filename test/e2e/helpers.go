package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/satchel/internal/api"
	"github.com/hyperengineering/satchel/internal/crypto"
	"github.com/hyperengineering/satchel/internal/store"
	syncwire "github.com/hyperengineering/satchel/internal/sync"
	"github.com/hyperengineering/satchel/internal/tier"
	"github.com/hyperengineering/satchel/internal/transport"
	"github.com/hyperengineering/satchel/internal/worker"
)

const apiToken = "e2e-api-token"

// fakeBackend is an in-memory stand-in for the remote backup endpoint.
type fakeBackend struct {
	mu sync.Mutex

	records      map[string]syncwire.UploadRequest
	deleted      []string
	conflictOn   map[string]syncwire.ConflictResponse
	unauthorized bool
	acks         []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		records:    make(map[string]syncwire.UploadRequest),
		conflictOn: make(map[string]syncwire.ConflictResponse),
	}
}

func (b *fakeBackend) handler() http.Handler {
	r := chi.NewRouter()

	r.Post("/backup", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.unauthorized {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var upload syncwire.UploadRequest
		if err := json.NewDecoder(req.Body).Decode(&upload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if remote, ok := b.conflictOn[upload.ID]; ok {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(remote)
			return
		}
		b.records[upload.ID] = upload
		w.WriteHeader(http.StatusCreated)
	})

	r.Get("/backup", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		ids := make([]string, 0, len(b.records))
		for id := range b.records {
			ids = append(ids, id)
		}
		json.NewEncoder(w).Encode(syncwire.ListResponse{RecordIDs: ids})
	})

	r.Delete("/backup/{id}", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		id := chi.URLParam(req, "id")
		if _, ok := b.records[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(b.records, id)
		b.deleted = append(b.deleted, id)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/conflicts/{id}/resolve", func(w http.ResponseWriter, req *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.acks = append(b.acks, chi.URLParam(req, "id"))
		w.WriteHeader(http.StatusOK)
	})

	return r
}

func (b *fakeBackend) record(id string) (syncwire.UploadRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.records[id]
	return rec, ok
}

func (b *fakeBackend) seed(id string, upload syncwire.UploadRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[id] = upload
}

func (b *fakeBackend) conflict(id string, remote syncwire.ConflictResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conflictOn[id] = remote
}

func (b *fakeBackend) clearConflict(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conflictOn, id)
}

func (b *fakeBackend) setUnauthorized(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unauthorized = v
}

// testEnv is a full daemon wired against a fake backend, driven through the
// control API router exactly as the UI would drive it.
type testEnv struct {
	router  *chi.Mux
	backend *fakeBackend
	store   *store.SQLiteStore
	cipher  *crypto.Cipher
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := newFakeBackend()
	backendSrv := httptest.NewServer(backend.handler())
	t.Cleanup(backendSrv.Close)

	dbPath := filepath.Join(t.TempDir(), "satchel.db")
	db, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	state, err := db.GetSyncState(context.Background())
	if err != nil {
		t.Fatalf("load sync state: %v", err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cipher, err := crypto.NewCipher(key)
	if err != nil {
		t.Fatalf("create cipher: %v", err)
	}

	tokenFn := func(ctx context.Context) (string, error) {
		st, err := db.GetSyncState(ctx)
		if err != nil {
			return "", err
		}
		return st.AuthToken, nil
	}
	uploader := transport.NewClient(backendSrv.URL, state.DeviceID, tokenFn, cipher)

	gate := &worker.Gate{}
	orch := worker.NewOrchestrator(db, db, db, uploader, gate, worker.Config{
		Interval:    time.Hour,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffCap:  10 * time.Millisecond,
	})
	engine := tier.NewEngine(db, uploader, db, gate)

	handler := api.NewHandler(db, orch, engine, uploader, apiToken, "e2e")

	return &testEnv{
		router:  api.NewRouter(handler),
		backend: backend,
		store:   db,
		cipher:  cipher,
	}
}

// request performs an authenticated control API request and returns the
// recorder. body may be nil.
func (env *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Authorization", "Bearer "+apiToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

// mustJSON decodes the recorder body into out, failing the test on error.
func mustJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// setFullSync drives the daemon from LOCAL_ONLY to FULL_SYNC through the API.
func (env *testEnv) setFullSync(t *testing.T) {
	t.Helper()
	w := env.request(t, http.MethodPut, "/api/v1/tier", map[string]string{
		"from": "local_only",
		"to":   "full_sync",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("tier upgrade: status %d: %s", w.Code, w.Body.String())
	}
}

// enqueue queues a snapshot mutation through the API and returns the queue ID.
func (env *testEnv) enqueue(t *testing.T, op, recordID, content string) int64 {
	t.Helper()

	body := map[string]any{
		"operation":   op,
		"entity_type": "entries",
		"record_id":   recordID,
	}
	if op != "delete" {
		payload, err := json.Marshal(syncwire.Snapshot{Content: content})
		if err != nil {
			t.Fatalf("marshal snapshot: %v", err)
		}
		body["payload"] = json.RawMessage(payload)
	}

	w := env.request(t, http.MethodPost, "/api/v1/queue", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("enqueue: status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID int64 `json:"id"`
	}
	mustJSON(t, w, &resp)
	return resp.ID
}

// syncNow triggers a drain and returns the response recorder.
func (env *testEnv) syncNow(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	return env.request(t, http.MethodPost, "/api/v1/sync/now", nil)
}

// decryptUpload decrypts a captured upload with the environment's cipher.
func (env *testEnv) decryptUpload(t *testing.T, upload syncwire.UploadRequest) string {
	t.Helper()
	sealed, err := crypto.DecodeSealed(upload.EncryptedContent, upload.ContentIV, upload.ContentTag)
	if err != nil {
		t.Fatalf("decode sealed upload: %v", err)
	}
	plaintext, err := env.cipher.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt upload: %v", err)
	}
	return string(plaintext)
}

// bodyContains reports whether the recorder body contains the substring.
func bodyContains(w *httptest.ResponseRecorder, s string) bool {
	return strings.Contains(w.Body.String(), s)
}
