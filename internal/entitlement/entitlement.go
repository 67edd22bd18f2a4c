// Package entitlement resolves a user's effective limits from tier
// defaults and an optional per-user override.
package entitlement

import (
	"time"

	"github.com/aurelia-ai/multichat/internal/model"
	"github.com/aurelia-ai/multichat/internal/registry"
)

// Effective is the merged result of tier defaults and override. It is
// what the rest of the core consults; tier and override are never read
// past this point.
type Effective struct {
	Tier string

	Mode            model.UsageMode
	DailyRequestCap int
	CreditCap       int64

	ContextWindow int
	InputCharCap  int

	// AllowedModels, when non-nil, replaces the category rule.
	AllowedModels []string
	Categories    []registry.Category

	Memory    bool
	Summarize bool
}

// Resolve merges tier config with an optional override. A nil or
// expired override yields the tier defaults unchanged. Pure function.
func Resolve(tier registry.TierConfig, ov *model.UserOverride, now time.Time) Effective {
	eff := Effective{
		Tier:            tier.Tier,
		Mode:            tier.Mode,
		DailyRequestCap: tier.DailyRequestCap,
		CreditCap:       tier.MonthlyCredits,
		ContextWindow:   tier.ContextWindow,
		InputCharCap:    tier.InputCharCap,
		Categories:      tier.Categories,
		Memory:          tier.Memory,
		Summarize:       tier.Summarize,
	}

	if ov == nil || ov.Expired(now) {
		return eff
	}

	if ov.UsageMode != nil {
		eff.Mode = *ov.UsageMode
	}
	if ov.DailyRequestCap != nil {
		eff.DailyRequestCap = *ov.DailyRequestCap
	}
	if ov.CreditCap != nil {
		eff.CreditCap = *ov.CreditCap
	}
	if ov.ContextWindow != nil {
		eff.ContextWindow = *ov.ContextWindow
	}
	if ov.InputCharCap != nil {
		eff.InputCharCap = *ov.InputCharCap
	}
	if ov.AllowedModels != nil {
		eff.AllowedModels = ov.AllowedModels
	}
	return eff
}

// ModelAllowed reports whether the effective limits permit dispatching
// the given model. An explicit allow-list overrides the category rule.
func (e Effective) ModelAllowed(mc registry.ModelConfig) bool {
	if e.AllowedModels != nil {
		for _, id := range e.AllowedModels {
			if id == mc.ID {
				return true
			}
		}
		return false
	}
	for _, c := range e.Categories {
		if c == mc.Category {
			return true
		}
	}
	return false
}
