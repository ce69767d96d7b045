// Package retry drives pending journal entries to a terminal status. Each
// pass picks up entries that have sat pending past the minimum age, times
// out the ones older than a day, and runs the type-specific completion
// routine on the rest with capped, linearly backed-off retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenvest/engine/internal/journal"
	"github.com/havenvest/engine/internal/ledger"
	"github.com/havenvest/engine/internal/metrics"
	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/notify"
	"github.com/havenvest/engine/internal/store"
)

// errNoRoutine marks entry types with no completion routine. Such entries
// stay pending until the overdue timeout fails them.
var errNoRoutine = errors.New("no completion routine for type")

// Processor completes pending journal entries.
type Processor struct {
	transactions store.TransactionStore
	journal      *journal.Journal
	ledger       *ledger.Ledger
	notifier     notify.Notifier
	log          zerolog.Logger
	now          func() time.Time
}

// New creates a retry Processor.
func New(transactions store.TransactionStore, j *journal.Journal, l *ledger.Ledger, n notify.Notifier, log zerolog.Logger) *Processor {
	return &Processor{
		transactions: transactions,
		journal:      j,
		ledger:       l,
		notifier:     n,
		log:          log.With().Str("component", "retry").Logger(),
		now:          time.Now,
	}
}

// Run processes one batch of pending entries. Per-entry failures are logged
// and never abort the batch.
func (p *Processor) Run(ctx context.Context) error {
	started := p.now()
	defer func() {
		metrics.RetryRunSeconds.Observe(time.Since(started).Seconds())
	}()

	now := p.now().UTC()
	pending, err := p.transactions.ListPendingDue(ctx, now.Add(-models.RetryAgeMinimum), now)
	if err != nil {
		return fmt.Errorf("failed to list pending transactions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	p.log.Info().Int("pending", len(pending)).Msg("retry pass started")
	for i := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.processOne(ctx, &pending[i], now)
	}
	return nil
}

func (p *Processor) processOne(ctx context.Context, tx *models.Transaction, now time.Time) {
	log := p.log.With().
		Uint("transaction_id", tx.ID).
		Str("type", tx.Type).
		Str("reference", tx.Reference).
		Logger()

	if tx.IsOverdue(now) {
		if err := p.journal.MarkFailed(ctx, tx.ID, "timeout"); err != nil {
			log.Error().Err(err).Msg("failed to time out transaction")
			return
		}
		metrics.RecordRetry("timeout")
		log.Warn().Msg("pending transaction timed out")
		return
	}

	err := p.complete(ctx, tx)
	switch {
	case err == nil:
		if err := p.journal.MarkSuccess(ctx, tx.ID); err != nil {
			log.Error().Err(err).Msg("failed to settle completed transaction")
			return
		}
		metrics.RecordRetry("success")
		p.notifyCompletion(ctx, tx)
		log.Info().Msg("pending transaction completed")

	case errors.Is(err, errNoRoutine):
		log.Warn().Msg("no completion routine, leaving pending")

	default:
		retryCount := tx.RetryCount + 1
		if retryCount >= models.MaxRetryCount {
			if markErr := p.journal.MarkExhausted(ctx, tx.ID, err.Error(), retryCount); markErr != nil {
				log.Error().Err(markErr).Msg("failed to fail exhausted transaction")
				return
			}
			metrics.RecordRetry("failed")
			log.Error().Err(err).Int("retry_count", retryCount).Msg("retries exhausted")
			return
		}
		nextRetryAt := now.Add(time.Duration(retryCount) * models.RetryBackoff)
		if schedErr := p.transactions.ScheduleRetry(ctx, tx.ID, retryCount, nextRetryAt); schedErr != nil {
			log.Error().Err(schedErr).Msg("failed to schedule retry")
			return
		}
		metrics.RecordRetry("rescheduled")
		log.Warn().Err(err).
			Int("retry_count", retryCount).
			Time("next_retry_at", nextRetryAt).
			Msg("completion failed, retry scheduled")
	}
}

// complete performs the ledger movement matching the entry's type.
func (p *Processor) complete(ctx context.Context, tx *models.Transaction) error {
	switch tx.Type {
	case models.TxTypeDeposit:
		_, err := p.ledger.Deposit(ctx, tx.UserID, tx.Currency, tx.NetAmount())
		return err
	case models.TxTypeWithdrawal:
		_, err := p.ledger.Withdraw(ctx, tx.UserID, tx.Currency, tx.Amount)
		return err
	case models.TxTypeInvestment:
		_, err := p.ledger.Debit(ctx, tx.UserID, models.WalletKindMain, tx.Currency, tx.Amount, models.TotalInvestments)
		return err
	default:
		return errNoRoutine
	}
}

func (p *Processor) notifyCompletion(ctx context.Context, tx *models.Transaction) {
	var event notify.Event
	switch tx.Type {
	case models.TxTypeDeposit:
		event = notify.EventDepositCompleted
	case models.TxTypeWithdrawal:
		event = notify.EventWithdrawalCompleted
	default:
		return
	}
	err := p.notifier.Send(ctx, notify.Message{
		UserID:   tx.UserID,
		Event:    event,
		Amount:   tx.Amount,
		Currency: tx.Currency,
	})
	if err != nil {
		p.log.Warn().Err(err).Uint("transaction_id", tx.ID).Msg("completion notification failed")
	}
}
