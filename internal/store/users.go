package store

import (
	"context"
	"fmt"
	"time"

	"github.com/havenvest/engine/internal/models"
	"gorm.io/gorm"
)

func (s *Users) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *Users) SetFirstActiveInvestment(ctx context.Context, id uint, at time.Time) error {
	// First write wins: the NULL guard makes repeated calls no-ops.
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND first_active_investment_at IS NULL", id).
		Update("first_active_investment_at", at).Error
	if err != nil {
		return fmt.Errorf("failed to set first active investment date: %w", err)
	}
	return nil
}

func (s *Users) AddReferralCredit(ctx context.Context, id uint, amount float64) error {
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"referral_count":    gorm.Expr("referral_count + 1"),
			"referral_earnings": gorm.Expr("referral_earnings + ?", amount),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update referral stats: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Users) RecordBonusWithdrawal(ctx context.Context, id uint, at time.Time, amount float64) error {
	res := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_bonus_withdrawal_at": at,
			"total_bonus_withdrawn":    gorm.Expr("total_bonus_withdrawn + ?", amount),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record bonus withdrawal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
