// Package api implements the office hub's HTTP surface: the remote record
// endpoints device agents push to and pull from.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/officebridge/fieldsync/internal/store"
	"github.com/officebridge/fieldsync/internal/types"
	"github.com/officebridge/fieldsync/internal/validation"
)

// IdempotencyTTL is how long applied mutation keys replay their cached
// response instead of re-applying.
const IdempotencyTTL = 24 * time.Hour

// HubStore is the slice of the record store the hub handlers need.
type HubStore interface {
	Put(ctx context.Context, collection string, rec *types.Record, queueForSync bool) (*types.Record, error)
	GetAny(ctx context.Context, collection, id string) (*types.Record, error)
	ListAll(ctx context.Context, collection string) ([]*types.Record, error)
	CheckOpIdempotency(ctx context.Context, mutationKey string) ([]byte, bool, error)
	RecordOpIdempotency(ctx context.Context, mutationKey string, response []byte, ttl time.Duration) error
}

// Handler holds hub endpoint dependencies.
type Handler struct {
	store   HubStore
	token   string
	version string
}

// NewHandler creates the hub handler set.
func NewHandler(s HubStore, token, version string) *Handler {
	return &Handler{store: s, token: token, version: version}
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// ListRecords handles GET /api/v1/collections/{collection}/records.
// The response includes tombstones so pulls can propagate deletes.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	recs, err := h.store.ListAll(r.Context(), collection)
	if err != nil {
		slog.Error("list records failed",
			"component", "api",
			"collection", collection,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Records []*types.Record `json:"records"`
	}{Records: recs})
}

// CreateRecord handles POST /api/v1/collections/{collection}/records.
func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}

	h.applyMutation(w, r, collection, rec, http.StatusCreated)
}

// UpdateRecord handles PUT /api/v1/collections/{collection}/records/{id}.
// Updates are upserts: a device may push an update for a record the hub has
// never seen when the original create was applied elsewhere.
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}

	rec, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	rec.ID = chi.URLParam(r, "id")

	h.applyMutation(w, r, collection, rec, http.StatusOK)
}

// DeleteRecord handles DELETE /api/v1/collections/{collection}/records/{id}.
// The record becomes a tombstone that stays listed so other devices' pulls
// observe the delete. The device's tombstone timestamp arrives in the
// updated_at query parameter and competes last-writer-wins against the
// current record: a delete pushed after a later edit loses and leaves the
// edit in place.
func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	collection, ok := h.collection(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	mutationKey := r.Header.Get("Idempotency-Key")
	if replayed := h.replayIfApplied(w, r, mutationKey); replayed {
		return
	}

	deletedAt := time.Now().UTC()
	if v := r.URL.Query().Get("updated_at"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid updated_at: "+err.Error())
			return
		}
		deletedAt = ts.UTC()
	}

	rec, err := h.store.GetAny(ctx, collection, id)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if rec == nil {
		rec = &types.Record{ID: id, Collection: collection, CreatedAt: deletedAt}
	}
	if rec.UpdatedAt.After(deletedAt) {
		// A later write already superseded this delete
		h.respondApplied(w, r, mutationKey, rec, http.StatusOK)
		return
	}
	rec.Deleted = true
	rec.UpdatedAt = deletedAt

	stored, err := h.store.Put(ctx, collection, rec, false)
	if err != nil {
		slog.Error("delete record failed",
			"component", "api",
			"collection", collection,
			"record_id", id,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	h.respondApplied(w, r, mutationKey, stored, http.StatusOK)
}

// applyMutation runs the shared idempotency-checked upsert path for create
// and update pushes. Records arrive through the remote-origin store path so
// the device's timestamps survive and nothing is re-enqueued.
func (h *Handler) applyMutation(w http.ResponseWriter, r *http.Request, collection string, rec *types.Record, status int) {
	mutationKey := r.Header.Get("Idempotency-Key")
	if replayed := h.replayIfApplied(w, r, mutationKey); replayed {
		return
	}

	stored, err := h.store.Put(r.Context(), collection, rec, false)
	if err != nil {
		slog.Error("apply mutation failed",
			"component", "api",
			"collection", collection,
			"record_id", rec.ID,
			"error", err,
		)
		MapStoreError(w, r, err)
		return
	}

	h.respondApplied(w, r, mutationKey, stored, status)
}

// replayIfApplied serves the cached response for an already-applied
// mutation key. Returns true when the response was replayed.
func (h *Handler) replayIfApplied(w http.ResponseWriter, r *http.Request, mutationKey string) bool {
	if mutationKey == "" {
		return false
	}
	cached, found, err := h.store.CheckOpIdempotency(r.Context(), mutationKey)
	if err != nil {
		slog.Error("idempotency check failed",
			"component", "api",
			"mutation_key", mutationKey,
			"error", err,
		)
		WriteProblem(w, r, http.StatusInternalServerError, "Internal error")
		return true
	}
	if !found {
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replay", "true")
	w.Write(cached)
	return true
}

// respondApplied writes the mutation response and caches it under the
// mutation key for idempotent redelivery.
func (h *Handler) respondApplied(w http.ResponseWriter, r *http.Request, mutationKey string, rec *types.Record, status int) {
	body, _ := json.Marshal(struct {
		ID        string    `json:"id"`
		UpdatedAt time.Time `json:"updated_at"`
	}{ID: rec.ID, UpdatedAt: rec.UpdatedAt})

	if mutationKey != "" {
		if err := h.store.RecordOpIdempotency(r.Context(), mutationKey, body, IdempotencyTTL); err != nil {
			slog.Warn("failed to cache idempotency",
				"component", "api",
				"mutation_key", mutationKey,
				"error", err,
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// collection resolves and validates the {collection} URL parameter.
func (h *Handler) collection(w http.ResponseWriter, r *http.Request) (string, bool) {
	collection := chi.URLParam(r, "collection")
	if !types.KnownCollection(collection) {
		WriteProblem(w, r, http.StatusNotFound, "Unknown collection")
		return "", false
	}
	return collection, true
}

// decodeRecord parses and validates a record payload from the request body.
func decodeRecord(w http.ResponseWriter, r *http.Request) (*types.Record, bool) {
	var rec types.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return nil, false
	}

	var errs []validation.ValidationError
	if rec.ID == "" && chi.URLParam(r, "id") == "" {
		errs = append(errs, validation.ValidationError{Field: "id", Message: "must not be empty"})
	}
	if rec.UpdatedAt.IsZero() {
		errs = append(errs, validation.ValidationError{Field: "updated_at", Message: "must be set"})
	}
	if len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Record failed validation", errs)
		return nil, false
	}
	return &rec, true
}

var _ HubStore = (*store.SQLiteStore)(nil)
