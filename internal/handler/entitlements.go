package handler

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aurelia-ai/multichat/internal/availability"
	"github.com/aurelia-ai/multichat/internal/entitlement"
	"github.com/aurelia-ai/multichat/internal/ledger"
	"github.com/aurelia-ai/multichat/internal/middleware"
	"github.com/aurelia-ai/multichat/internal/model"
	"github.com/aurelia-ai/multichat/internal/registry"
	"github.com/aurelia-ai/multichat/internal/store"
	"github.com/aurelia-ai/multichat/pkg/logger"
)

// EntitlementHandler serves the introspection endpoint the extension
// uses to render its model picker and usage meter.
type EntitlementHandler struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	store    *store.Store
	cache    *availability.Cache
	logger   *logger.Logger
}

// NewEntitlementHandler creates an entitlement handler.
func NewEntitlementHandler(reg *registry.Registry, led *ledger.Ledger, st *store.Store, cache *availability.Cache, log *logger.Logger) *EntitlementHandler {
	return &EntitlementHandler{registry: reg, ledger: led, store: st, cache: cache, logger: log}
}

// ModelView is one catalog entry as seen by a specific user.
type ModelView struct {
	ID         string `json:"id"`
	Category   string `json:"category"`
	CreditCost int64  `json:"credit_cost"`
	Allowed    bool   `json:"allowed"`
	Available  bool   `json:"available"`
}

// EntitlementResponse is the GET /entitlements response body.
type EntitlementResponse struct {
	Tier          string               `json:"tier"`
	Mode          model.UsageMode      `json:"mode"`
	ContextWindow int                  `json:"context_window"`
	InputCharCap  int                  `json:"input_char_cap"`
	Memory        bool                 `json:"memory"`
	Summarize     bool                 `json:"summarize"`
	Usage         *model.UsageSnapshot `json:"usage"`
	Models        []ModelView          `json:"models"`
}

// Get handles GET /api/v1/entitlements.
func (h *EntitlementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	tierName := middleware.GetTier(r.Context())

	ov, err := h.store.GetOverride(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to load override", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	eff := entitlement.Resolve(h.registry.Tier(tierName), ov, time.Now())

	snap, err := h.ledger.Snapshot(r.Context(), userID, eff)
	if err != nil {
		h.logger.Error("failed to load usage snapshot", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	catalog := h.registry.Models()
	views := make([]ModelView, 0, len(catalog))
	for _, mc := range catalog {
		if !mc.Enabled {
			continue
		}
		views = append(views, ModelView{
			ID:         mc.ID,
			Category:   string(mc.Category),
			CreditCost: mc.CreditCost,
			Allowed:    eff.ModelAllowed(mc),
			Available:  h.cache.Lookup(mc.ID),
		})
	}

	writeJSON(w, http.StatusOK, EntitlementResponse{
		Tier:          eff.Tier,
		Mode:          eff.Mode,
		ContextWindow: eff.ContextWindow,
		InputCharCap:  eff.InputCharCap,
		Memory:        eff.Memory,
		Summarize:     eff.Summarize,
		Usage:         snap,
		Models:        views,
	})
}
