package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mongoadapter "github.com/avelartours/capacity-engine/internal/adapters/mongo"
	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	"github.com/avelartours/capacity-engine/internal/config"
	"github.com/avelartours/capacity-engine/internal/domain"
	"github.com/avelartours/capacity-engine/internal/holds"
	"github.com/avelartours/capacity-engine/internal/idempotency"
)

type Handlers struct {
	cfg     *config.Config
	repo    *pg.Repository
	manager *holds.Manager
	group   *holds.Group
	avail   *holds.AvailabilityCalculator
	idemp   *idempotency.Idempotency
	audit   *mongoadapter.AuditTrail
}

func NewHandlers(cfg *config.Config, repo *pg.Repository, manager *holds.Manager, group *holds.Group, avail *holds.AvailabilityCalculator, idemp *idempotency.Idempotency, audit *mongoadapter.AuditTrail) *Handlers {
	return &Handlers{
		cfg:     cfg,
		repo:    repo,
		manager: manager,
		group:   group,
		avail:   avail,
		idemp:   idemp,
		audit:   audit,
	}
}

func (h *Handlers) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind     domain.PoolKind `json:"kind"`
		Capacity *int32          `json:"capacity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !req.Kind.Valid() {
		http.Error(w, "invalid pool kind", http.StatusBadRequest)
		return
	}
	if req.Capacity != nil && *req.Capacity < 0 {
		http.Error(w, "capacity must not be negative", http.StatusBadRequest)
		return
	}

	pool := domain.NewCapacityPool(req.Kind, req.Capacity)
	if err := h.repo.CreatePool(r.Context(), pool); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"pool_id": pool.ID})
}

func (h *Handlers) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	s, err := h.avail.Available(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"pool_id":      s.PoolID,
		"kind":         s.Kind,
		"capacity":     s.Capacity,
		"confirmed":    s.Confirmed,
		"active_holds": s.ActiveHolds,
		"available":    s.Available,
		"unlimited":    s.Unlimited,
		"is_sold_out":  s.SoldOut,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) AcquireHold(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if replayed := h.replayIdempotent(w, r, key); replayed {
		return
	}

	var req struct {
		PoolID     uuid.UUID `json:"pool_id"`
		Quantity   int32     `json:"quantity"`
		TTLSeconds int64     `json:"ttl_seconds"`
		OwnerRef   string    `json:"owner_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ttl := h.cfg.HoldTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	hold, err := h.manager.Acquire(r.Context(), req.PoolID, req.OwnerRef, req.Quantity, ttl)
	if err != nil {
		h.writeError(w, err)
		return
	}

	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"hold_id":    hold.ID,
		"expires_at": hold.ExpiresAt.Format(time.RFC3339),
	})
	h.storeIdempotent(r, key, http.StatusCreated, data)
}

func (h *Handlers) AcquireGroup(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if replayed := h.replayIdempotent(w, r, key); replayed {
		return
	}

	var req struct {
		OwnerRef   string `json:"owner_ref"`
		TTLSeconds int64  `json:"ttl_seconds"`
		Items      []struct {
			PoolID   uuid.UUID `json:"pool_id"`
			Quantity int32     `json:"quantity"`
		} `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ttl := h.cfg.HoldTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	items := make([]holds.GroupItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = holds.GroupItem{PoolID: item.PoolID, Quantity: item.Quantity}
	}

	acquired, err := h.group.AcquireGroup(r.Context(), req.OwnerRef, ttl, items)
	if err != nil {
		h.writeError(w, err)
		return
	}

	holdsResp := make([]map[string]interface{}, len(acquired))
	for i, hold := range acquired {
		holdsResp[i] = map[string]interface{}{
			"hold_id": hold.ID,
			"pool_id": hold.PoolID,
		}
	}
	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"holds":      holdsResp,
		"expires_at": acquired[0].ExpiresAt.Format(time.RFC3339),
	})
	h.storeIdempotent(r, key, http.StatusCreated, data)
}

func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if err := h.manager.Release(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ConfirmHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	if err := h.manager.Confirm(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ExtendHold(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	var req struct {
		AdditionalSeconds int64 `json:"additional_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	hold, err := h.manager.Extend(r.Context(), id, time.Duration(req.AdditionalSeconds)*time.Second)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"expires_at": hold.ExpiresAt.Format(time.RFC3339),
	})
}

// HoldAudit serves a hold's transition trail from the audit store.
// Deployments running without mongo get a 404.
func (h *Handlers) HoldAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		http.Error(w, "audit trail not configured", http.StatusNotFound)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	transitions, err := h.audit.TransitionsForHold(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transitions": transitions})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// writeError maps the engine's error taxonomy onto the checkout UX split:
// sold out, reservation expired, and please-retry are distinct statuses.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var ic *domain.InsufficientCapacityError
	if errors.As(err, &ic) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "insufficient_capacity",
			"available": ic.Available,
		})
		return
	}
	var na *domain.HoldNotActiveError
	if errors.As(err, &na) {
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":   "hold_not_active",
			"status":  na.Status,
			"expired": na.Expired,
		})
		return
	}
	switch {
	case errors.Is(err, domain.ErrPoolNotFound), errors.Is(err, domain.ErrHoldNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrLockContention):
		http.Error(w, "busy, please try again", http.StatusServiceUnavailable)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) replayIdempotent(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.idemp == nil || key == "" {
		return false
	}
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return true
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return true
	}
	return false
}

func (h *Handlers) storeIdempotent(r *http.Request, key string, status int, data []byte) {
	if h.idemp == nil || key == "" {
		return
	}
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: data})
}

// writeJSON returns the marshalled body so callers can record it for
// idempotent replay.
func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}
