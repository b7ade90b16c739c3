// Package http provides the REST adapter over the pool manager service.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/Strob0t/PoolGate/internal/domain/pool"
	"github.com/Strob0t/PoolGate/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// Handlers bundles the HTTP handler dependencies.
type Handlers struct {
	svc *service.PoolManager
}

// NewHandlers creates the handler set over the pool manager.
func NewHandlers(svc *service.PoolManager) *Handlers {
	return &Handlers{svc: svc}
}

// CreatePool handles POST /api/v1/tenants/{tenantID}/pool.
func (h *Handlers) CreatePool(w http.ResponseWriter, r *http.Request) {
	cfg, ok := readJSON[pool.Config](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	ts, err := h.svc.CreatePool(r.Context(), urlParam(r, "tenantID"), cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ts)
}

// DeletePool handles DELETE /api/v1/tenants/{tenantID}/pool.
func (h *Handlers) DeletePool(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePool(r.Context(), urlParam(r, "tenantID")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type acquireRequest struct {
	// TimeoutMs overrides the pool's acquire timeout for this call.
	TimeoutMs int64 `json:"timeout_ms"`
}

// Acquire handles POST /api/v1/tenants/{tenantID}/pool/acquire.
func (h *Handlers) Acquire(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[acquireRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	lease, err := h.svc.Acquire(ctx, urlParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

type releaseRequest struct {
	LeaseID string `json:"lease_id"`
}

// Release handles POST /api/v1/tenants/{tenantID}/pool/release.
func (h *Handlers) Release(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[releaseRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}

	if err := h.svc.Release(r.Context(), urlParam(r, "tenantID"), req.LeaseID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPoolStats handles GET /api/v1/tenants/{tenantID}/pool/stats.
func (h *Handlers) GetPoolStats(w http.ResponseWriter, r *http.Request) {
	ts, err := h.svc.GetStats(r.Context(), urlParam(r, "tenantID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// ListPools handles GET /api/v1/pools.
func (h *Handlers) ListPools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListStats(r.Context()))
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
