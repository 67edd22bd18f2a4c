package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/aurelia-ai/multichat/internal/nats"
	"github.com/aurelia-ai/multichat/internal/store"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	store *store.Store
	nats  *nats.Client
}

// NewHealthHandler creates a health handler. nc may be nil when the
// message bus is not configured.
func NewHealthHandler(st *store.Store, nc *nats.Client) *HealthHandler {
	return &HealthHandler{store: st, nats: nc}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready. The service is ready when the database
// responds; the message bus is best-effort and only reported.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]bool{
		"database": h.store.Ping(ctx) == nil,
		"nats":     h.nats != nil && h.nats.IsConnected(),
	}

	status := http.StatusOK
	state := "ready"
	if !checks["database"] {
		status = http.StatusServiceUnavailable
		state = "not ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}
