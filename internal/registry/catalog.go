package registry

import (
	"github.com/aurelia-ai/multichat/internal/model"
)

// Tier names.
const (
	TierFree = "free"
	TierPlus = "plus"
	TierPro  = "pro"
	TierMax  = "max"
)

// Provider names, matching the adapter registrations in cmd/api.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderQwen      = "qwen"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

const baseSystemPrompt = "You are a helpful assistant. Answer clearly and concisely."

// DefaultModels is the static model catalog.
func DefaultModels() []ModelConfig {
	return []ModelConfig{
		{ID: "claude-sonnet", Provider: ProviderAnthropic, ProviderModelID: "claude-3-5-sonnet-20241022", CreditCost: 20, Category: CategoryHigh, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "claude-haiku", Provider: ProviderAnthropic, ProviderModelID: "claude-3-5-haiku-20241022", CreditCost: 5, Category: CategoryLow, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "gpt-4o", Provider: ProviderOpenAI, ProviderModelID: "gpt-4o", CreditCost: 20, Category: CategoryHigh, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "gpt-4o-mini", Provider: ProviderOpenAI, ProviderModelID: "gpt-4o-mini", CreditCost: 5, Category: CategoryLow, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "qwen-turbo", Provider: ProviderQwen, ProviderModelID: "qwen-turbo", CreditCost: 3, Category: CategoryLow, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "qwen-max", Provider: ProviderQwen, ProviderModelID: "qwen-max", CreditCost: 10, Category: CategoryMedium, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "gemini-flash", Provider: ProviderGemini, ProviderModelID: "gemini-1.5-flash", CreditCost: 5, Category: CategoryLow, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "gemini-pro", Provider: ProviderGemini, ProviderModelID: "gemini-1.5-pro", CreditCost: 15, Category: CategoryMedium, Enabled: true, SystemPrompt: baseSystemPrompt},
		{ID: "llama-local", Provider: ProviderOllama, ProviderModelID: "llama3.1", CreditCost: 1, Category: CategoryLow, Enabled: false, SystemPrompt: baseSystemPrompt},
	}
}

// DefaultTiers is the static tier table.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Tier:            TierFree,
			Mode:            model.ModeQuota,
			DailyRequestCap: 10,
			Categories:      []Category{CategoryLow},
			ContextWindow:   8,
			InputCharCap:    4000,
			Memory:          false,
		},
		{
			Tier:            TierPlus,
			Mode:            model.ModeCredit,
			MonthlyCredits:  500,
			RolloverCap:     500,
			Categories:      []Category{CategoryLow, CategoryMedium},
			ContextWindow:   20,
			InputCharCap:    16000,
			Memory:          true,
		},
		{
			Tier:            TierPro,
			Mode:            model.ModeCredit,
			MonthlyCredits:  2000,
			RolloverCap:     2000,
			Categories:      []Category{CategoryLow, CategoryMedium, CategoryHigh},
			ContextWindow:   40,
			InputCharCap:    32000,
			Memory:          true,
			Summarize:       true,
		},
		{
			Tier:            TierMax,
			Mode:            model.ModeCredit,
			MonthlyCredits:  10000,
			RolloverCap:     10000,
			Categories:      []Category{CategoryLow, CategoryMedium, CategoryHigh},
			ContextWindow:   80,
			InputCharCap:    100000,
			Memory:          true,
			Summarize:       true,
		},
	}
}
