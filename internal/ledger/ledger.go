// Package ledger meters usage in one of two mutually exclusive modes:
// a daily request quota or a monthly credit balance. The mode comes
// from the resolved effective limits, not the tier alone, so overrides
// work.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurelia-ai/multichat/internal/entitlement"
	"github.com/aurelia-ai/multichat/internal/model"
	"github.com/aurelia-ai/multichat/internal/store"
	"github.com/aurelia-ai/multichat/pkg/logger"
	"github.com/aurelia-ai/multichat/pkg/metrics"
)

// Store is the persistence surface the ledger needs. *store.Store
// implements it; tests use an in-memory fake.
type Store interface {
	GetDailyUsage(ctx context.Context, userID, day string) (*model.DailyUsage, error)
	IncrementDailyUsage(ctx context.Context, userID, day string, chars int) error
	GetMonthlyCredits(ctx context.Context, userID, month string) (*model.MonthlyCredits, error)
	DebitCredits(ctx context.Context, userID, month string, cost int64) (*model.MonthlyCredits, error)
	InsertMonthlyGrant(ctx context.Context, row *model.MonthlyCredits) (bool, error)
	AddPurchasedCredits(ctx context.Context, userID, month string, amount int64) (*model.MonthlyCredits, error)
	AppendTransaction(ctx context.Context, tx *model.CreditTransaction) error
	HasTransactionReference(ctx context.Context, userID, reference string) (bool, error)
}

// Publisher receives ledger audit events. May be nil.
type Publisher interface {
	PublishTransaction(ctx context.Context, tx *model.CreditTransaction)
}

// Ledger tracks and mutates usage counters and credit balances.
type Ledger struct {
	store     Store
	publisher Publisher
	logger    *logger.Logger
	now       func() time.Time
}

// New creates a ledger. now may be nil for the wall clock.
func New(st Store, pub Publisher, log *logger.Logger, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{store: st, publisher: pub, logger: log, now: now}
}

// Day returns the quota day key for t: YYYY-MM-DD in UTC.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Month returns the credit month key for t: YYYY-MM in UTC.
func Month(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Check runs the pre-flight gate for one prospective dispatch. In quota
// mode cost is ignored; in credit mode cost is the model's credit cost.
// Rejections are entitlement.Rejection errors with a stable code.
func (l *Ledger) Check(ctx context.Context, userID string, eff entitlement.Effective, cost int64) error {
	switch eff.Mode {
	case model.ModeQuota:
		usage, err := l.store.GetDailyUsage(ctx, userID, Day(l.now()))
		if err != nil {
			return err
		}
		if usage.RequestCount >= eff.DailyRequestCap {
			metrics.EntitlementRejections.WithLabelValues(entitlement.CodeDailyRequestLimit).Inc()
			return &entitlement.Rejection{
				Code:    entitlement.CodeDailyRequestLimit,
				Message: "You have reached today's request limit.",
			}
		}
		return nil

	case model.ModeCredit:
		bal, err := l.store.GetMonthlyCredits(ctx, userID, Month(l.now()))
		if err != nil {
			return err
		}
		if bal.Available() < cost {
			metrics.EntitlementRejections.WithLabelValues(entitlement.CodeInsufficientCreds).Inc()
			return &entitlement.Rejection{
				Code:      entitlement.CodeInsufficientCreds,
				Message:   "Not enough credits for this model.",
				Needed:    cost,
				Available: bal.Available(),
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown usage mode %q", eff.Mode)
	}
}

// CommitQuota records one completed model response against the daily
// quota and returns the requests remaining today.
func (l *Ledger) CommitQuota(ctx context.Context, userID string, eff entitlement.Effective, inputChars int) (int, error) {
	day := Day(l.now())
	if err := l.store.IncrementDailyUsage(ctx, userID, day, inputChars); err != nil {
		return 0, err
	}
	usage, err := l.store.GetDailyUsage(ctx, userID, day)
	if err != nil {
		return 0, err
	}
	remaining := eff.DailyRequestCap - usage.RequestCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Debit spends the model's credit cost and appends the transaction row.
// The conditional update lives in the store; a concurrent debit that
// would overdraw comes back as an insufficient_credits rejection. Each
// dispatch debits independently.
func (l *Ledger) Debit(ctx context.Context, userID, modelID string, cost int64) (int64, error) {
	month := Month(l.now())
	bal, err := l.store.DebitCredits(ctx, userID, month, cost)
	if errors.Is(err, store.ErrInsufficientCredits) {
		metrics.EntitlementRejections.WithLabelValues(entitlement.CodeInsufficientCreds).Inc()
		return 0, &entitlement.Rejection{
			Code:    entitlement.CodeInsufficientCreds,
			Message: "Not enough credits for this model.",
			Needed:  cost,
		}
	}
	if err != nil {
		return 0, err
	}

	tx := &model.CreditTransaction{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		Month:        month,
		Type:         model.TxUsage,
		Amount:       -cost,
		ModelID:      modelID,
		BalanceAfter: bal.Available(),
		CreatedAt:    l.now(),
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return 0, err
	}
	l.publish(ctx, tx)

	metrics.CreditsDebited.WithLabelValues(modelID).Add(float64(cost))
	return bal.Available(), nil
}

// ApplyMonthlyGrant applies the recurring tier grant for the month:
// base credits plus rollover from the prior month, bounded by
// rolloverCap. Idempotent per (user, month); a second application is a
// no-op.
func (l *Ledger) ApplyMonthlyGrant(ctx context.Context, userID string, base, rolloverCap int64) error {
	now := l.now()
	month := Month(now)

	prior, err := l.store.GetMonthlyCredits(ctx, userID, Month(now.AddDate(0, -1, 0)))
	if err != nil {
		return err
	}
	rollover := prior.Available()
	if rollover < 0 {
		rollover = 0
	}
	if rollover > rolloverCap {
		rollover = rolloverCap
	}

	row := &model.MonthlyCredits{
		UserID:          userID,
		Month:           month,
		BaseCredits:     base,
		RolloverCredits: rollover,
	}
	created, err := l.store.InsertMonthlyGrant(ctx, row)
	if err != nil {
		return err
	}
	if !created {
		l.logger.Debug("monthly grant already applied",
			zap.String("user_id", userID), zap.String("month", month))
		return nil
	}

	tx := &model.CreditTransaction{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		Month:        month,
		Type:         model.TxMonthlyGrant,
		Amount:       base + rollover,
		BalanceAfter: row.Available(),
		CreatedAt:    now,
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	l.publish(ctx, tx)

	metrics.GrantsApplied.WithLabelValues(string(model.TxMonthlyGrant)).Inc()
	return nil
}

// ApplyPurchase adds purchased credits to the current month. reference
// is the billing collaborator's idempotency key; a replayed event is a
// no-op.
func (l *Ledger) ApplyPurchase(ctx context.Context, userID string, amount int64, reference string) error {
	applied, err := l.store.HasTransactionReference(ctx, userID, reference)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	month := Month(l.now())
	bal, err := l.store.AddPurchasedCredits(ctx, userID, month, amount)
	if err != nil {
		return err
	}

	tx := &model.CreditTransaction{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		Month:        month,
		Type:         model.TxPurchase,
		Amount:       amount,
		Reference:    reference,
		BalanceAfter: bal.Available(),
		CreatedAt:    l.now(),
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	l.publish(ctx, tx)

	metrics.GrantsApplied.WithLabelValues(string(model.TxPurchase)).Inc()
	return nil
}

// ApplyAdminGrant adds a one-off administrative credit grant, keyed by
// reference for idempotency like a purchase.
func (l *Ledger) ApplyAdminGrant(ctx context.Context, userID string, amount int64, reference string) error {
	applied, err := l.store.HasTransactionReference(ctx, userID, reference)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	month := Month(l.now())
	bal, err := l.store.AddPurchasedCredits(ctx, userID, month, amount)
	if err != nil {
		return err
	}

	tx := &model.CreditTransaction{
		ID:           uuid.Must(uuid.NewV7()).String(),
		UserID:       userID,
		Month:        month,
		Type:         model.TxAdminGrant,
		Amount:       amount,
		Reference:    reference,
		BalanceAfter: bal.Available(),
		CreatedAt:    l.now(),
	}
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		return err
	}
	l.publish(ctx, tx)

	metrics.GrantsApplied.WithLabelValues(string(model.TxAdminGrant)).Inc()
	return nil
}

// Snapshot returns the current usage view for introspection endpoints.
func (l *Ledger) Snapshot(ctx context.Context, userID string, eff entitlement.Effective) (*model.UsageSnapshot, error) {
	snap := &model.UsageSnapshot{Mode: eff.Mode}

	switch eff.Mode {
	case model.ModeQuota:
		usage, err := l.store.GetDailyUsage(ctx, userID, Day(l.now()))
		if err != nil {
			return nil, err
		}
		snap.RequestsToday = usage.RequestCount
		snap.DailyRequestCap = eff.DailyRequestCap

	case model.ModeCredit:
		bal, err := l.store.GetMonthlyCredits(ctx, userID, Month(l.now()))
		if err != nil {
			return nil, err
		}
		snap.CreditsAvailable = bal.Available()
		snap.CreditsUsed = bal.UsedCredits
	}
	return snap, nil
}

func (l *Ledger) publish(ctx context.Context, tx *model.CreditTransaction) {
	if l.publisher != nil {
		l.publisher.PublishTransaction(ctx, tx)
	}
}
