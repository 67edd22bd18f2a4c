package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aurelia-ai/multichat/internal/model"
)

// ErrInsufficientCredits is returned by DebitCredits when the
// conditional update finds the balance too low. The check happens in
// the database so two concurrent debits can never drive the balance
// negative.
var ErrInsufficientCredits = errors.New("insufficient credits")

// GetDailyUsage loads the day's counters; a missing row reads as zero.
func (s *Store) GetDailyUsage(ctx context.Context, userID, day string) (*model.DailyUsage, error) {
	var u model.DailyUsage
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND day = ?", userID, day).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.DailyUsage{UserID: userID, Day: day}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get daily usage: %w", err)
	}
	return &u, nil
}

// IncrementDailyUsage upserts the day's counters: +1 request, +chars.
func (s *Store) IncrementDailyUsage(ctx context.Context, userID, day string, chars int) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "day"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"request_count": gorm.Expr("request_count + 1"),
			"char_count":    gorm.Expr("char_count + ?", chars),
		}),
	}).Create(&model.DailyUsage{
		UserID:       userID,
		Day:          day,
		RequestCount: 1,
		CharCount:    int64(chars),
	}).Error
	if err != nil {
		return fmt.Errorf("increment daily usage: %w", err)
	}
	return nil
}

// GetMonthlyCredits loads the month's balance row; a missing row reads
// as an empty balance.
func (s *Store) GetMonthlyCredits(ctx context.Context, userID, month string) (*model.MonthlyCredits, error) {
	var c model.MonthlyCredits
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND month = ?", userID, month).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.MonthlyCredits{UserID: userID, Month: month}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get monthly credits: %w", err)
	}
	return &c, nil
}

// DebitCredits atomically spends cost from the month's balance. The
// WHERE clause carries the balance check; RowsAffected == 0 means the
// debit would overdraw and is rejected.
func (s *Store) DebitCredits(ctx context.Context, userID, month string, cost int64) (*model.MonthlyCredits, error) {
	res := s.db.WithContext(ctx).Model(&model.MonthlyCredits{}).
		Where("user_id = ? AND month = ?", userID, month).
		Where("used_credits + ? <= base_credits + rollover_credits + purchased_credits", cost).
		Update("used_credits", gorm.Expr("used_credits + ?", cost))
	if res.Error != nil {
		return nil, fmt.Errorf("debit credits: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientCredits
	}
	return s.GetMonthlyCredits(ctx, userID, month)
}

// InsertMonthlyGrant creates the month's balance row. Returns false
// without error when the row already exists, which makes the monthly
// grant idempotent per (user, month).
func (s *Store) InsertMonthlyGrant(ctx context.Context, row *model.MonthlyCredits) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "month"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return false, fmt.Errorf("insert monthly grant: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// AddPurchasedCredits adds a one-off purchase to the month's balance,
// creating the row if the grant has not landed yet.
func (s *Store) AddPurchasedCredits(ctx context.Context, userID, month string, amount int64) (*model.MonthlyCredits, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "month"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"purchased_credits": gorm.Expr("purchased_credits + ?", amount),
		}),
	}).Create(&model.MonthlyCredits{
		UserID:           userID,
		Month:            month,
		PurchasedCredits: amount,
	}).Error
	if err != nil {
		return nil, fmt.Errorf("add purchased credits: %w", err)
	}
	return s.GetMonthlyCredits(ctx, userID, month)
}

// AppendTransaction records a balance change in the append-only ledger.
func (s *Store) AppendTransaction(ctx context.Context, tx *model.CreditTransaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// HasTransactionReference reports whether a purchase reference was
// already applied, for idempotent purchase grants.
func (s *Store) HasTransactionReference(ctx context.Context, userID, reference string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.CreditTransaction{}).
		Where("user_id = ? AND reference = ?", userID, reference).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check transaction reference: %w", err)
	}
	return n > 0, nil
}

// UsageRollup aggregates one day's request and character counts across
// all users, for the daily rollup log.
type UsageRollup struct {
	Requests int64
	Chars    int64
	Users    int64
}

// DailyRollup sums the day's usage counters.
func (s *Store) DailyRollup(ctx context.Context, day string) (*UsageRollup, error) {
	var agg UsageRollup
	err := s.db.WithContext(ctx).Model(&model.DailyUsage{}).
		Where("day = ?", day).
		Select("COALESCE(SUM(request_count), 0) AS requests, COALESCE(SUM(char_count), 0) AS chars, COUNT(*) AS users").
		Scan(&agg).Error
	if err != nil {
		return nil, fmt.Errorf("daily rollup: %w", err)
	}
	return &agg, nil
}

// GetOverride loads the user's override record, if any.
func (s *Store) GetOverride(ctx context.Context, userID string) (*model.UserOverride, error) {
	var ov model.UserOverride
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&ov).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	return &ov, nil
}
