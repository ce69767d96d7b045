package store

import (
	"context"
	"fmt"
	"time"

	"github.com/havenvest/engine/internal/models"
	"gorm.io/gorm"
)

func (s *Transactions) Create(ctx context.Context, tx *models.Transaction) error {
	if err := s.db.WithContext(ctx).Create(tx).Error; err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (s *Transactions) Get(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, translate(err)
	}
	return &tx, nil
}

func (s *Transactions) List(ctx context.Context, filter TxFilter, page Page) ([]models.Transaction, error) {
	q := s.db.WithContext(ctx).Model(&models.Transaction{})
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("type = ?", filter.Type)
	}
	if filter.Currency != "" {
		q = q.Where("currency = ?", filter.Currency)
	}

	var transactions []models.Transaction
	err := q.Order("id DESC").
		Limit(page.limit()).
		Offset(page.Offset).
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return transactions, nil
}

func (s *Transactions) ListPendingDue(ctx context.Context, olderThan, now time.Time) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", models.TxStatusPending, olderThan).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("priority DESC, created_at ASC").
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return transactions, nil
}

func (s *Transactions) MarkSuccess(ctx context.Context, id uint, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TxStatusPending).
		Updates(map[string]interface{}{
			"status":       models.TxStatusSuccess,
			"processed_at": at,
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Transactions) MarkFailed(ctx context.Context, id uint, reason string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TxStatusPending).
		Updates(map[string]interface{}{
			"status":      models.TxStatusFailed,
			"failed_at":   at,
			"fail_reason": reason,
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Transactions) MarkExhausted(ctx context.Context, id uint, reason string, retryCount int, at time.Time) error {
	// Like MarkFailed, but records the attempt that exhausted the retries so
	// retry_count reflects every attempt made.
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TxStatusPending).
		Updates(map[string]interface{}{
			"status":      models.TxStatusFailed,
			"failed_at":   at,
			"fail_reason": reason,
			"retry_count": retryCount,
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Transactions) MarkCancelled(ctx context.Context, id uint, reason string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TxStatusPending).
		Updates(map[string]interface{}{
			"status":       models.TxStatusCancelled,
			"cancelled_at": at,
			"fail_reason":  reason,
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Transactions) ScheduleRetry(ctx context.Context, id uint, retryCount int, nextRetryAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TxStatusPending).
		Updates(map[string]interface{}{
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Transactions) ResetForRetry(ctx context.Context, id uint) error {
	// The only path out of terminal failed: back to pending with the retry
	// count advanced, triggered explicitly from outside the engine.
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TxStatusFailed).
		Updates(map[string]interface{}{
			"status":        models.TxStatusPending,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": nil,
			"failed_at":     nil,
			"fail_reason":   "",
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Transactions) MarkReversed(ctx context.Context, id uint, reason string, reversedBy *uint) error {
	res := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status IN ?", id, []string{
			models.TxStatusSuccess, models.TxStatusFailed, models.TxStatusCancelled,
		}).
		Updates(map[string]interface{}{
			"reversed":        true,
			"reversal_reason": reason,
			"reversed_by_id":  reversedBy,
		})
	return s.transitionResult(ctx, id, res)
}

func (s *Transactions) Aggregate(ctx context.Context) ([]AggregateRow, error) {
	var rows []AggregateRow
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("status, currency, count(*) as count, coalesce(sum(amount), 0) as total_amount").
		Group("status").
		Group("currency").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	return rows, nil
}

func (s *Transactions) transitionResult(ctx context.Context, id uint, res *gorm.DB) error {
	if res.Error != nil {
		return fmt.Errorf("failed to update transaction: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidState
}
