package model

import (
	"time"
)

// UserOverride is an optional per-user administrative exception to tier
// defaults. Every limit field is nullable; nil means "no override for
// this field". An override past its expiry is treated as absent.
type UserOverride struct {
	UserID string `gorm:"primaryKey;type:varchar(64)" json:"user_id"`

	UsageMode       *UsageMode `gorm:"type:varchar(16)" json:"usage_mode,omitempty"`
	DailyRequestCap *int       `json:"daily_request_cap,omitempty"`
	CreditCap       *int64     `json:"credit_cap,omitempty"`
	ContextWindow   *int       `json:"context_window,omitempty"`
	InputCharCap    *int       `json:"input_char_cap,omitempty"`

	// AllowedModels, when set, replaces the tier's category-based allow
	// rule with an explicit model id list.
	AllowedModels []string `gorm:"serializer:json" json:"allowed_models,omitempty"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Expired reports whether the override is past its expiry at now.
// An override without an expiry never expires.
func (o *UserOverride) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}
