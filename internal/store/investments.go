package store

import (
	"context"
	"fmt"
	"time"

	"github.com/havenvest/engine/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Investments) CreateCapped(ctx context.Context, inv *models.Investment, maxActive int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Serialize creations per owner so the count below stays fresh until
		// the insert commits.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", int64(inv.UserID)).Error; err != nil {
			return fmt.Errorf("failed to take owner lock: %w", err)
		}

		var active int64
		err := tx.Model(&models.Investment{}).
			Where("user_id = ? AND status = ?", inv.UserID, models.InvestmentStatusActive).
			Count(&active).Error
		if err != nil {
			return fmt.Errorf("failed to count active investments: %w", err)
		}
		if active >= int64(maxActive) {
			return ErrActiveLimit
		}

		if err := tx.Create(inv).Error; err != nil {
			return fmt.Errorf("failed to create investment: %w", err)
		}
		return nil
	})
}

func (s *Investments) Get(ctx context.Context, id uint) (*models.Investment, error) {
	var inv models.Investment
	if err := s.db.WithContext(ctx).First(&inv, id).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}

func (s *Investments) Detail(ctx context.Context, id uint) (*InvestmentDetail, error) {
	var inv models.Investment
	err := s.db.WithContext(ctx).
		Preload("Plan").
		Preload("User").
		First(&inv, id).Error
	if err != nil {
		return nil, translate(err)
	}

	detail := &InvestmentDetail{
		Investment: inv,
		Plan: PlanSummary{
			ID:           inv.Plan.ID,
			Name:         inv.Plan.Name,
			DailyROI:     inv.Plan.DailyROI,
			TotalROI:     inv.Plan.TotalROI,
			DurationDays: inv.Plan.DurationDays,
		},
		Owner: OwnerSummary{
			ID:           inv.User.ID,
			Email:        inv.User.Email,
			ReferralCode: inv.User.ReferralCode,
		},
	}
	return detail, nil
}

func (s *Investments) ListByOwner(ctx context.Context, userID uint, status string, page Page) ([]models.Investment, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var investments []models.Investment
	err := q.Order("id DESC").
		Limit(page.limit()).
		Offset(page.Offset).
		Find(&investments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	return investments, nil
}

func (s *Investments) ListActiveByOwner(ctx context.Context, userID uint) ([]models.Investment, error) {
	var investments []models.Investment
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, models.InvestmentStatusActive).
		Order("id ASC").
		Find(&investments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active investments: %w", err)
	}
	return investments, nil
}

func (s *Investments) ListDue(ctx context.Context, now time.Time) ([]models.Investment, error) {
	var investments []models.Investment
	err := s.db.WithContext(ctx).
		Where("status = ? AND next_accrual_at <= ?", models.InvestmentStatusActive, now).
		Order("next_accrual_at ASC").
		Find(&investments).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list due investments: %w", err)
	}
	return investments, nil
}

func (s *Investments) ClaimAccrual(ctx context.Context, claim AccrualClaim) (bool, error) {
	col, ok := models.BalanceColumn(claim.Currency)
	if !ok {
		return false, ErrUnknownCurrency
	}

	wallet := models.Wallet{
		UserID: claim.UserID,
		Kind:   models.WalletKindProfit,
		Status: models.WalletStatusActive,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "kind"}},
			DoNothing: true,
		}).
		Create(&wallet).Error
	if err != nil {
		return false, fmt.Errorf("failed to ensure profit wallet: %w", err)
	}

	claimed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Compare-and-advance: the observed next_accrual_at in the WHERE
		// clause lets exactly one concurrent runner win the window.
		res := tx.Model(&models.Investment{}).
			Where("id = ? AND status = ? AND next_accrual_at = ?",
				claim.InvestmentID, models.InvestmentStatusActive, claim.ObservedNextAccrualAt).
			Updates(map[string]interface{}{
				"earned_amount":   gorm.Expr("earned_amount + ?", claim.Earned),
				"last_accrual_at": claim.LastAccrualAt,
				"next_accrual_at": claim.NextAccrualAt,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to claim accrual: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return nil
		}
		claimed = true

		// The earnings credit commits with the claim. A failure here rolls
		// the claim back and leaves the window eligible for the next run.
		err := tx.Model(&models.Wallet{}).
			Where("user_id = ? AND kind = ?", claim.UserID, models.WalletKindProfit).
			Updates(map[string]interface{}{
				col:                gorm.Expr(col+" + ?", claim.Earned),
				"total_earnings":   gorm.Expr("total_earnings + ?", claim.Earned),
				"last_activity_at": claim.LastAccrualAt,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to credit earnings: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func (s *Investments) Complete(ctx context.Context, id uint, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ? AND status = ?", id, models.InvestmentStatusActive).
		Updates(map[string]interface{}{
			"status":   models.InvestmentStatusCompleted,
			"end_date": at,
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Investments) Cancel(ctx context.Context, id uint, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ? AND status = ?", id, models.InvestmentStatusActive).
		Updates(map[string]interface{}{
			"status": models.InvestmentStatusCancelled,
			"notes":  gorm.Expr("trim(both E'\\n' from notes || E'\\n' || ?)", "cancelled: "+reason),
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Investments) Suspend(ctx context.Context, id uint, reason string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ? AND status = ?", id, models.InvestmentStatusActive).
		Updates(map[string]interface{}{
			"status": models.InvestmentStatusSuspended,
			"notes":  gorm.Expr("trim(both E'\\n' from notes || E'\\n' || ?)", "suspended: "+reason),
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Investments) SetTransaction(ctx context.Context, id, transactionID uint) error {
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ?", id).
		Update("transaction_id", transactionID).Error
	if err != nil {
		return fmt.Errorf("failed to link transaction: %w", err)
	}
	return nil
}

func (s *Investments) Aggregate(ctx context.Context) ([]AggregateRow, error) {
	var rows []AggregateRow
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Select("status, currency, count(*) as count, coalesce(sum(amount), 0) as total_amount").
		Group("status").
		Group("currency").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate investments: %w", err)
	}
	return rows, nil
}

// transitionResult distinguishes a missing record from one that is no longer
// in the expected state after a conditional status update affected no rows.
func (s *Investments) transitionResult(ctx context.Context, id uint, res *gorm.DB) error {
	if res.Error != nil {
		return fmt.Errorf("failed to update investment status: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}
