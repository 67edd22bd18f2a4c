package model

import (
	"time"
)

// UsageMode selects how a user's requests are metered.
type UsageMode string

const (
	// ModeQuota meters usage by a daily request count.
	ModeQuota UsageMode = "quota"
	// ModeCredit meters usage by a spendable monthly credit balance.
	ModeCredit UsageMode = "credit"
)

// DailyUsage holds per-user, per-calendar-day counters. Days are keyed
// as YYYY-MM-DD in UTC. Upserted once per completed model response when
// the user's effective mode is quota.
type DailyUsage struct {
	UserID       string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Day          string    `gorm:"primaryKey;type:char(10)" json:"day"`
	RequestCount int       `json:"request_count"`
	CharCount    int64     `json:"char_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MonthlyCredits holds a user's credit balance for one calendar month,
// keyed as YYYY-MM. The available balance must never go negative from a
// debit; the store enforces this with a conditional update.
type MonthlyCredits struct {
	UserID           string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Month            string    `gorm:"primaryKey;type:char(7)" json:"month"`
	BaseCredits      int64     `json:"base_credits"`
	RolloverCredits  int64     `json:"rollover_credits"`
	PurchasedCredits int64     `json:"purchased_credits"`
	UsedCredits      int64     `json:"used_credits"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Available returns the spendable balance.
func (m *MonthlyCredits) Available() int64 {
	return m.BaseCredits + m.RolloverCredits + m.PurchasedCredits - m.UsedCredits
}

// TransactionType classifies a credit balance change.
type TransactionType string

const (
	TxMonthlyGrant TransactionType = "monthly_grant"
	TxRollover     TransactionType = "rollover"
	TxPurchase     TransactionType = "purchase"
	TxUsage        TransactionType = "usage"
	TxRefund       TransactionType = "refund"
	TxAdminGrant   TransactionType = "admin_grant"
)

// CreditTransaction is an append-only ledger row recording a single
// balance change and the balance that resulted. Never mutated.
type CreditTransaction struct {
	ID     string          `gorm:"primaryKey;type:char(36)" json:"id"`
	UserID string          `gorm:"type:varchar(64);index" json:"user_id"`
	Month  string          `gorm:"type:char(7)" json:"month"`
	Type   TransactionType `gorm:"type:varchar(24)" json:"type"`

	// Amount is signed: grants positive, usage debits negative.
	Amount int64 `json:"amount"`

	// ModelID is set for usage debits and refunds.
	ModelID string `gorm:"type:varchar(64)" json:"model_id,omitempty"`

	// Reference carries an external idempotency key for purchase grants.
	Reference string `gorm:"type:varchar(128)" json:"reference,omitempty"`

	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageSnapshot is the read-only usage view exposed to UI surfaces.
type UsageSnapshot struct {
	Mode             UsageMode `json:"mode"`
	RequestsToday    int       `json:"requests_today,omitempty"`
	DailyRequestCap  int       `json:"daily_request_cap,omitempty"`
	CreditsAvailable int64     `json:"credits_available,omitempty"`
	CreditsUsed      int64     `json:"credits_used,omitempty"`
}
