// Package journal records money-movement intents and their outcomes. Every
// balance-affecting action in the engine writes exactly one journal entry;
// the retry processor drives pending entries to a terminal status.
package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/store"
)

var (
	// ErrNotFound is returned when a journal entry does not exist.
	ErrNotFound = errors.New("journal entry not found")

	// ErrAlreadyTerminal is returned when a status update targets an entry
	// that already reached a terminal status.
	ErrAlreadyTerminal = errors.New("journal entry already terminal")

	// ErrNotFailed is returned when a retry reset targets an entry that is
	// not in failed status.
	ErrNotFailed = errors.New("journal entry is not failed")

	// ErrRetriesExhausted is returned when a retry reset targets an entry
	// with no attempts left.
	ErrRetriesExhausted = errors.New("journal entry has no retries left")

	// ErrNotTerminal is returned when a reversal targets a pending entry.
	ErrNotTerminal = errors.New("journal entry is not terminal")
)

// Entry describes a journal append. Status, reference and priority are
// assigned by the journal.
type Entry struct {
	UserID       uint
	Type         string
	Subtype      string
	Amount       float64
	Currency     string
	Fee          float64
	FeePercent   float64
	InvestmentID *uint
	PlanID       *uint
	RelatedID    *uint
	Description  string
	Automated    bool
}

// Journal appends and settles transaction records.
type Journal struct {
	transactions store.TransactionStore
	log          zerolog.Logger
	now          func() time.Time
}

// New creates a Journal over the given transaction store.
func New(transactions store.TransactionStore, log zerolog.Logger) *Journal {
	return &Journal{
		transactions: transactions,
		log:          log.With().Str("component", "journal").Logger(),
		now:          time.Now,
	}
}

// Append records a new pending entry. The reference is a fresh UUID and the
// priority is derived from the entry's type and size.
func (j *Journal) Append(ctx context.Context, e Entry) (*models.Transaction, error) {
	tx := &models.Transaction{
		UserID:       e.UserID,
		Type:         e.Type,
		Subtype:      e.Subtype,
		Status:       models.TxStatusPending,
		Amount:       e.Amount,
		Currency:     e.Currency,
		Fee:          e.Fee,
		FeePercent:   e.FeePercent,
		Reference:    uuid.NewString(),
		InvestmentID: e.InvestmentID,
		PlanID:       e.PlanID,
		RelatedID:    e.RelatedID,
		Description:  e.Description,
		Priority:     derivePriority(e.Type, e.Amount),
		Automated:    e.Automated,
	}
	if err := j.transactions.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to append journal entry: %w", err)
	}
	j.log.Debug().
		Uint("transaction_id", tx.ID).
		Str("reference", tx.Reference).
		Str("type", tx.Type).
		Int("priority", tx.Priority).
		Msg("journal entry appended")
	return tx, nil
}

// derivePriority ranks entries for the retry processor. Large withdrawals
// outrank large deposits, which outrank earnings and investments.
func derivePriority(txType string, amount float64) int {
	switch {
	case txType == models.TxTypeWithdrawal && amount > 500_000:
		return 10
	case txType == models.TxTypeDeposit && amount > 1_000_000:
		return 9
	case txType == models.TxTypeROI:
		return 8
	case txType == models.TxTypeInvestment:
		return 7
	default:
		return 5
	}
}

// Get returns one journal entry.
func (j *Journal) Get(ctx context.Context, id uint) (*models.Transaction, error) {
	tx, err := j.transactions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load journal entry: %w", err)
	}
	return tx, nil
}

// List returns journal entries matching the filter, newest first.
func (j *Journal) List(ctx context.Context, filter store.TxFilter, page store.Page) ([]models.Transaction, error) {
	entries, err := j.transactions.List(ctx, filter, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return entries, nil
}

// MarkSuccess settles a pending entry as succeeded.
func (j *Journal) MarkSuccess(ctx context.Context, id uint) error {
	err := j.transactions.MarkSuccess(ctx, id, j.now().UTC())
	return j.transitionErr(err, id, models.TxStatusSuccess)
}

// MarkFailed settles a pending entry as failed with a reason.
func (j *Journal) MarkFailed(ctx context.Context, id uint, reason string) error {
	err := j.transactions.MarkFailed(ctx, id, reason, j.now().UTC())
	return j.transitionErr(err, id, models.TxStatusFailed)
}

// MarkExhausted settles a pending entry as failed after its last retry
// attempt, persisting the final attempt count.
func (j *Journal) MarkExhausted(ctx context.Context, id uint, reason string, retryCount int) error {
	err := j.transactions.MarkExhausted(ctx, id, reason, retryCount, j.now().UTC())
	return j.transitionErr(err, id, models.TxStatusFailed)
}

// MarkCancelled settles a pending entry as cancelled with a reason.
func (j *Journal) MarkCancelled(ctx context.Context, id uint, reason string) error {
	err := j.transactions.MarkCancelled(ctx, id, reason, j.now().UTC())
	return j.transitionErr(err, id, models.TxStatusCancelled)
}

func (j *Journal) transitionErr(err error, id uint, status string) error {
	switch {
	case err == nil:
		j.log.Debug().Uint("transaction_id", id).Str("status", status).Msg("journal entry settled")
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidState):
		return ErrAlreadyTerminal
	default:
		return fmt.Errorf("failed to settle journal entry: %w", err)
	}
}

// Retry resets a failed entry back to pending, consuming one retry attempt.
// The next retry processor run picks it up.
func (j *Journal) Retry(ctx context.Context, id uint) error {
	tx, err := j.Get(ctx, id)
	if err != nil {
		return err
	}
	if tx.Status != models.TxStatusFailed {
		return ErrNotFailed
	}
	if !tx.CanBeRetried() {
		return ErrRetriesExhausted
	}
	if err := j.transactions.ResetForRetry(ctx, id); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			return ErrNotFailed
		}
		return fmt.Errorf("failed to reset journal entry: %w", err)
	}
	j.log.Info().Uint("transaction_id", id).Msg("failed journal entry reset for retry")
	return nil
}

// MarkReversed flags a terminal entry as reversed. The entry itself is
// immutable; the compensating movement is a separate entry linked by
// RelatedID.
func (j *Journal) MarkReversed(ctx context.Context, id uint, reason string, reversedBy *uint) error {
	err := j.transactions.MarkReversed(ctx, id, reason, reversedBy)
	switch {
	case err == nil:
		j.log.Info().Uint("transaction_id", id).Str("reason", reason).Msg("journal entry marked reversed")
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrInvalidState):
		return ErrNotTerminal
	default:
		return fmt.Errorf("failed to mark journal entry reversed: %w", err)
	}
}

// Aggregate returns counts and sums of entries grouped by status and
// currency.
func (j *Journal) Aggregate(ctx context.Context) ([]store.AggregateRow, error) {
	rows, err := j.transactions.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate journal: %w", err)
	}
	return rows, nil
}
