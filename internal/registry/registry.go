// Package registry holds the static catalog of models and subscription
// tiers. The catalog is read-only at request time.
package registry

import (
	"sort"

	"github.com/aurelia-ai/multichat/internal/model"
)

// Category gates tier access to a model.
type Category string

const (
	CategoryLow    Category = "low"
	CategoryMedium Category = "medium"
	CategoryHigh   Category = "high"
)

// ModelConfig describes one model available for dispatch.
type ModelConfig struct {
	// ID is the registry id callers use (e.g. "claude-sonnet").
	ID string `json:"id"`
	// Provider names the adapter that serves this model.
	Provider string `json:"provider"`
	// ProviderModelID is the wire id sent to the provider.
	ProviderModelID string `json:"provider_model_id"`

	CreditCost int64    `json:"credit_cost"`
	Category   Category `json:"category"`
	Enabled    bool     `json:"enabled"`

	SystemPrompt string `json:"-"`
}

// TierConfig holds the static limits for one subscription tier.
type TierConfig struct {
	Tier string

	Mode            model.UsageMode
	DailyRequestCap int

	// MonthlyCredits is the base grant; RolloverCap bounds the credits
	// carried over from the prior month.
	MonthlyCredits int64
	RolloverCap    int64

	Categories    []Category
	ContextWindow int
	InputCharCap  int

	// Memory disabled means only a minimal trailing window is sent.
	Memory bool
	// Summarize allows the rolling conversation summary to be attached
	// and regenerated. High tiers only.
	Summarize bool
}

// Registry resolves model ids and tiers against the static catalog.
type Registry struct {
	models map[string]ModelConfig
	tiers  map[string]TierConfig
}

// New builds a registry from the given catalog. Unknown tiers fall back
// to the free tier on lookup.
func New(models []ModelConfig, tiers []TierConfig) *Registry {
	r := &Registry{
		models: make(map[string]ModelConfig, len(models)),
		tiers:  make(map[string]TierConfig, len(tiers)),
	}
	for _, m := range models {
		r.models[m.ID] = m
	}
	for _, t := range tiers {
		r.tiers[t.Tier] = t
	}
	return r
}

// Model returns the config for a registry model id.
func (r *Registry) Model(id string) (ModelConfig, bool) {
	m, ok := r.models[id]
	return m, ok
}

// Models returns all catalog entries, sorted by id.
func (r *Registry) Models() []ModelConfig {
	out := make([]ModelConfig, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tier returns the config for a tier, falling back to free.
func (r *Registry) Tier(name string) TierConfig {
	if t, ok := r.tiers[name]; ok {
		return t
	}
	return r.tiers[TierFree]
}
