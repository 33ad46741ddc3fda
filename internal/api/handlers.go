package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/satchel/internal/store"
	syncwire "github.com/hyperengineering/satchel/internal/sync"
	"github.com/hyperengineering/satchel/internal/tier"
	"github.com/hyperengineering/satchel/internal/types"
	"github.com/hyperengineering/satchel/internal/validation"
	"github.com/hyperengineering/satchel/internal/worker"
)

// Syncer is the slice of the orchestrator the control API drives.
type Syncer interface {
	DrainOnce(ctx context.Context) error
	Status(ctx context.Context) (*types.SyncStatus, error)
	Resume(ctx context.Context)
}

// TierEngine runs privacy tier transitions.
type TierEngine interface {
	Transition(ctx context.Context, from, to types.PrivacyTier, progress tier.ProgressFunc) error
}

// Notifier tells the backend about locally applied conflict resolutions.
type Notifier interface {
	AckResolution(ctx context.Context, conflictID string, resolve syncwire.ResolveRequest) error
}

// Handler implements the control API handlers.
type Handler struct {
	store    store.Store
	syncer   Syncer
	tiers    TierEngine
	backend  Notifier
	apiToken string
	version  string
}

// NewHandler creates a new Handler. backend may be nil when no remote is
// configured.
func NewHandler(s store.Store, syncer Syncer, tiers TierEngine, backend Notifier, apiToken, version string) *Handler {
	return &Handler{
		store:    s,
		syncer:   syncer,
		tiers:    tiers,
		backend:  backend,
		apiToken: apiToken,
		version:  version,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	DeviceID string `json:"device_id"`
}

// Health returns the daemon's health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.GetSyncState(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Version:  h.version,
		DeviceID: state.DeviceID,
	})
}

// SyncStatus handles GET /api/v1/sync/status.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.syncer.Status(r.Context())
	if err != nil {
		slog.Error("status query failed", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// SyncNow handles POST /api/v1/sync/now. The drain runs on the request's
// context; a drain or tier transition already holding the gate maps to 409.
func (h *Handler) SyncNow(w http.ResponseWriter, r *http.Request) {
	err := h.syncer.DrainOnce(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "completed"})
	case errors.Is(err, worker.ErrSyncPaused), errors.Is(err, worker.ErrDrainInProgress):
		WriteProblem(w, r, http.StatusConflict, err.Error())
	default:
		slog.Error("manual drain failed", "error", err)
		MapStoreError(w, r, err)
	}
}

// EnqueueRequest is the body of POST /api/v1/queue.
type EnqueueRequest struct {
	Operation  string          `json:"operation"`
	EntityType string          `json:"entity_type"`
	RecordID   string          `json:"record_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// EnqueueResponse is the body of a successful enqueue. Skipped is true when
// the current privacy tier is LOCAL_ONLY and nothing was queued.
type EnqueueResponse struct {
	ID      int64 `json:"id"`
	Skipped bool  `json:"skipped"`
}

// EnqueueMutation handles POST /api/v1/queue.
func (h *Handler) EnqueueMutation(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateEnum("operation", req.Operation, []string{"create", "update", "delete"}))
	c.Add(validation.ValidateRequired("record_id", req.RecordID))
	c.Add(validation.ValidateUTF8("record_id", req.RecordID))
	c.Add(validation.ValidateNoNullBytes("record_id", req.RecordID))
	c.Add(validation.ValidateRequired("entity_type", req.EntityType))
	c.Add(validation.ValidateMaxLength("entity_type", req.EntityType, 64))
	if req.Operation != string(types.OpDelete) && len(req.Payload) == 0 {
		c.Add(&validation.ValidationError{Field: "payload", Message: "is required for create and update"})
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	id, err := h.store.Enqueue(r.Context(), types.Operation(req.Operation), req.EntityType, req.RecordID, req.Payload)
	if err != nil {
		slog.Error("enqueue failed", "error", err, "record_id", req.RecordID)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, EnqueueResponse{ID: id, Skipped: id == 0})
}

// QueueResponse is the body of GET /api/v1/queue.
type QueueResponse struct {
	Entries []types.QueueEntry `json:"entries"`
}

// ListQueue handles GET /api/v1/queue.
func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListPending(r.Context())
	if err != nil {
		slog.Error("queue listing failed", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, QueueResponse{Entries: entries})
}

// PurgeQueue handles DELETE /api/v1/queue/completed.
func (h *Handler) PurgeQueue(w http.ResponseWriter, r *http.Request) {
	purged, err := h.store.PurgeCompleted(r.Context())
	if err != nil {
		slog.Error("queue purge failed", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

// ConflictsResponse is the body of GET /api/v1/conflicts.
type ConflictsResponse struct {
	Conflicts []types.ConflictRecord `json:"conflicts"`
}

// ListConflicts handles GET /api/v1/conflicts.
func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.store.ListConflicts(r.Context())
	if err != nil {
		slog.Error("conflict listing failed", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ConflictsResponse{Conflicts: conflicts})
}

// GetConflict handles GET /api/v1/conflicts/{id}.
func (h *Handler) GetConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateULID("id", id); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	conflict, err := h.store.GetConflict(r.Context(), id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

// ResolveRequest is the body of POST /api/v1/conflicts/{id}/resolve.
type ResolveRequest struct {
	Choice        string          `json:"choice"`
	MergedPayload json.RawMessage `json:"merged_payload,omitempty"`
}

// ResolveResponse reports the queue entry created for the winning version.
// QueueID is zero when the resolution required no re-upload.
type ResolveResponse struct {
	QueueID int64 `json:"queue_id"`
}

// ResolveConflict handles POST /api/v1/conflicts/{id}/resolve.
func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateULID("id", id))
	c.Add(validation.ValidateEnum("choice", req.Choice, []string{"local", "remote", "merged"}))
	if types.Resolution(req.Choice) == types.ResolutionMerged && len(req.MergedPayload) == 0 {
		c.Add(&validation.ValidationError{Field: "merged_payload", Message: "is required when choice is merged"})
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", c.Errors())
		return
	}

	queueID, err := h.store.ResolveConflict(r.Context(), id, types.Resolution(req.Choice), req.MergedPayload)
	if err != nil {
		slog.Error("conflict resolution failed", "error", err, "conflict_id", id)
		MapStoreError(w, r, err)
		return
	}

	// Best effort: the winning version reaches the server through the queue
	// either way, the ack just lets it drop its conflict marker sooner.
	if h.backend != nil {
		ack := syncwire.ResolveRequest{ChosenVersion: req.Choice}
		if err := h.backend.AckResolution(r.Context(), id, ack); err != nil {
			slog.Warn("resolution ack failed", "conflict_id", id, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, ResolveResponse{QueueID: queueID})
}

// DiscardConflict handles DELETE /api/v1/conflicts/{id}.
func (h *Handler) DiscardConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := validation.ValidateULID("id", id); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	if err := h.store.DeleteConflict(r.Context(), id); err != nil {
		MapStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TierResponse is the body of GET /api/v1/tier.
type TierResponse struct {
	Tier types.PrivacyTier `json:"privacy_tier"`
}

// GetTier handles GET /api/v1/tier.
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.GetSyncState(r.Context())
	if err != nil {
		slog.Error("state query failed", "error", err)
		MapStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TierResponse{Tier: state.Tier})
}

// TierUpdateRequest is the body of PUT /api/v1/tier. From is the tier the
// caller believes is current; a mismatch means the caller is stale and the
// transition is refused.
type TierUpdateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// UpdateTier handles PUT /api/v1/tier.
func (h *Handler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	var req TierUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	from, err := types.ParseTier(req.From)
	if err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields",
			[]validation.ValidationError{{Field: "from", Message: err.Error()}})
		return
	}
	to, err := types.ParseTier(req.To)
	if err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields",
			[]validation.ValidationError{{Field: "to", Message: err.Error()}})
		return
	}

	progress := func(p tier.Progress) {
		slog.Debug("downgrade progress",
			"component", "api",
			"deleted", p.Deleted,
			"total", p.Total,
		)
	}

	if err := h.tiers.Transition(r.Context(), from, to, progress); err != nil {
		var de *tier.DowngradeError
		if errors.As(err, &de) {
			slog.Error("tier downgrade aborted", "deleted", de.Deleted, "total", de.Total, "error", de.Err)
			WriteProblem(w, r, http.StatusBadGateway,
				fmt.Sprintf("remote purge incomplete: deleted %d of %d records", de.Deleted, de.Total))
			return
		}
		slog.Error("tier transition failed", "from", from, "to", to, "error", err)
		MapStoreError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TierResponse{Tier: to})
}

// TokenRequest is the body of POST /api/v1/auth/token.
type TokenRequest struct {
	Token string `json:"token"`
}

// UpdateAuthToken handles POST /api/v1/auth/token. Storing a fresh backend
// token resumes sync if it was paused for re-authentication.
func (h *Handler) UpdateAuthToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}
	if err := validation.ValidateRequired("token", req.Token); err != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*err})
		return
	}

	if err := h.store.SetAuthToken(r.Context(), req.Token); err != nil {
		slog.Error("token update failed", "error", err)
		MapStoreError(w, r, err)
		return
	}
	h.syncer.Resume(r.Context())

	w.WriteHeader(http.StatusNoContent)
}
