package store

import (
	"context"
	"fmt"
	"time"

	"github.com/havenvest/engine/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Wallets) Get(ctx context.Context, userID uint, kind string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND kind = ?", userID, kind).
		First(&wallet).Error
	if err != nil {
		return nil, translate(err)
	}
	return &wallet, nil
}

func (s *Wallets) GetOrCreate(ctx context.Context, userID uint, kind string) (*models.Wallet, error) {
	wallet := models.Wallet{
		UserID: userID,
		Kind:   kind,
		Status: models.WalletStatusActive,
	}
	// Conflict on (user_id, kind) means the wallet already exists.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "kind"}},
			DoNothing: true,
		}).
		Create(&wallet).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}
	return s.Get(ctx, userID, kind)
}

func (s *Wallets) Credit(ctx context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind, at time.Time) (*models.Wallet, error) {
	col, ok := models.BalanceColumn(currency)
	if !ok {
		return nil, ErrUnknownCurrency
	}

	if _, err := s.GetOrCreate(ctx, userID, kind); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		col:                gorm.Expr(col+" + ?", amount),
		"last_activity_at": at,
	}
	if total != "" {
		updates[string(total)] = gorm.Expr(string(total)+" + ?", amount)
	}

	err := s.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND kind = ?", userID, kind).
		Updates(updates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	return s.Get(ctx, userID, kind)
}

func (s *Wallets) Debit(ctx context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind, at time.Time) (*models.Wallet, error) {
	col, ok := models.BalanceColumn(currency)
	if !ok {
		return nil, ErrUnknownCurrency
	}

	if _, err := s.GetOrCreate(ctx, userID, kind); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		col:                gorm.Expr(col+" - ?", amount),
		"last_activity_at": at,
	}
	if total != "" {
		updates[string(total)] = gorm.Expr(string(total)+" + ?", amount)
	}

	// The balance guard in the WHERE clause makes the decrement atomic; a
	// racing debit that would take the balance negative affects zero rows.
	res := s.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND kind = ? AND "+col+" >= ?", userID, kind, amount).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInsufficientBalance
	}

	return s.Get(ctx, userID, kind)
}

func (s *Wallets) Transfer(ctx context.Context, userID uint, fromKind, toKind, currency string, amount float64, at time.Time) error {
	col, ok := models.BalanceColumn(currency)
	if !ok {
		return ErrUnknownCurrency
	}

	if _, err := s.GetOrCreate(ctx, userID, fromKind); err != nil {
		return err
	}
	if _, err := s.GetOrCreate(ctx, userID, toKind); err != nil {
		return err
	}

	// Debit and credit commit together; no reader observes the intermediate
	// debited-but-uncredited state.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Wallet{}).
			Where("user_id = ? AND kind = ? AND "+col+" >= ?", userID, fromKind, amount).
			Updates(map[string]interface{}{
				col:                gorm.Expr(col+" - ?", amount),
				"last_activity_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to debit %s wallet: %w", fromKind, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrInsufficientBalance
		}

		err := tx.Model(&models.Wallet{}).
			Where("user_id = ? AND kind = ?", userID, toKind).
			Updates(map[string]interface{}{
				col:                gorm.Expr(col+" + ?", amount),
				"last_activity_at": at,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to credit %s wallet: %w", toKind, err)
		}
		return nil
	})
}
