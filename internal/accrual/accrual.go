// Package accrual advances earnings on active investments. Each eligible
// investment is claimed with a single conditional write that advances its
// accrual window and credits the profit wallet in one transaction, so
// overlapping runs cannot credit the same hour twice and a won claim is
// never left uncredited.
package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenvest/engine/internal/journal"
	"github.com/havenvest/engine/internal/metrics"
	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/notify"
	"github.com/havenvest/engine/internal/store"
)

// ErrNotClaimed is returned when an investment's accrual window was already
// advanced by a concurrent runner, or the investment is no longer active.
var ErrNotClaimed = errors.New("accrual window not claimed")

// Runner performs accrual passes.
type Runner struct {
	investments store.InvestmentStore
	journal     *journal.Journal
	notifier    notify.Notifier
	log         zerolog.Logger
	now         func() time.Time
}

// New creates an accrual Runner.
func New(investments store.InvestmentStore, j *journal.Journal, n notify.Notifier, log zerolog.Logger) *Runner {
	return &Runner{
		investments: investments,
		journal:     j,
		notifier:    n,
		log:         log.With().Str("component", "accrual").Logger(),
		now:         time.Now,
	}
}

// Run processes every investment whose accrual window is due. A failure on
// one investment is logged and does not abort the batch; the unclaimed
// window keeps it eligible for the next run.
func (r *Runner) Run(ctx context.Context) error {
	started := r.now()
	defer func() {
		metrics.AccrualRunSeconds.Observe(time.Since(started).Seconds())
	}()

	due, err := r.investments.ListDue(ctx, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to list due investments: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	r.log.Info().Int("due", len(due)).Msg("accrual pass started")
	processed, skipped, failed := 0, 0, 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch err := r.process(ctx, &due[i]); {
		case err == nil:
			processed++
		case errors.Is(err, ErrNotClaimed):
			skipped++
		default:
			failed++
			r.log.Error().Err(err).Uint("investment_id", due[i].ID).Msg("accrual failed")
		}
	}
	r.log.Info().
		Int("processed", processed).
		Int("skipped", skipped).
		Int("failed", failed).
		Msg("accrual pass finished")
	return nil
}

// ProcessInvestment accrues one investment by id. Queue consumers call this
// for ids dispatched by the scheduler loop.
func (r *Runner) ProcessInvestment(ctx context.Context, id uint) error {
	inv, err := r.investments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotClaimed
		}
		return fmt.Errorf("failed to load investment: %w", err)
	}
	return r.process(ctx, inv)
}

func (r *Runner) process(ctx context.Context, inv *models.Investment) error {
	if inv.Status != models.InvestmentStatusActive {
		metrics.RecordAccrual("skipped")
		return ErrNotClaimed
	}

	now := r.now().UTC()
	if inv.NextAccrualAt.After(now) {
		metrics.RecordAccrual("skipped")
		return ErrNotClaimed
	}

	hourly := inv.HourlyAmount()
	claimed, err := r.investments.ClaimAccrual(ctx, store.AccrualClaim{
		InvestmentID:          inv.ID,
		UserID:                inv.UserID,
		Currency:              inv.Currency,
		ObservedNextAccrualAt: inv.NextAccrualAt,
		Earned:                hourly,
		LastAccrualAt:         now,
		NextAccrualAt:         now.Add(time.Hour),
	})
	if err != nil {
		metrics.RecordAccrual("failed")
		return fmt.Errorf("failed to claim accrual window: %w", err)
	}
	if !claimed {
		metrics.RecordAccrual("skipped")
		return ErrNotClaimed
	}

	switch {
	case inv.HasMatured(now):
		err = r.finish(ctx, inv, hourly, now)
	case now.Hour() == 0:
		err = r.recordDaily(ctx, inv)
	default:
		err = r.record(ctx, inv, models.TxSubtypeHourly, hourly)
	}
	if err != nil {
		metrics.RecordAccrual("failed")
		return err
	}

	metrics.RecordAccrual("credited")
	return nil
}

// finish closes a matured investment and reports the final earned total.
func (r *Runner) finish(ctx context.Context, inv *models.Investment, hourly float64, now time.Time) error {
	if err := r.investments.Complete(ctx, inv.ID, now); err != nil {
		return fmt.Errorf("failed to complete investment: %w", err)
	}
	if err := r.record(ctx, inv, models.TxSubtypeCompletion, hourly); err != nil {
		return err
	}
	if err := r.notifier.Send(ctx, notify.Message{
		UserID:   inv.UserID,
		Event:    notify.EventInvestmentCompleted,
		Amount:   inv.EarnedAmount + hourly,
		Currency: inv.Currency,
	}); err != nil {
		r.log.Warn().Err(err).Uint("investment_id", inv.ID).Msg("completion notification failed")
	}
	r.log.Info().
		Uint("investment_id", inv.ID).
		Float64("total_earned", inv.EarnedAmount+hourly).
		Msg("investment matured")
	return nil
}

// recordDaily emits the once-a-day summary entry for the full daily amount.
func (r *Runner) recordDaily(ctx context.Context, inv *models.Investment) error {
	if err := r.record(ctx, inv, models.TxSubtypeDaily, inv.DailyAmount()); err != nil {
		return err
	}
	if err := r.notifier.Send(ctx, notify.Message{
		UserID:   inv.UserID,
		Event:    notify.EventDailyReturn,
		Amount:   inv.DailyAmount(),
		Currency: inv.Currency,
	}); err != nil {
		r.log.Warn().Err(err).Uint("investment_id", inv.ID).Msg("daily return notification failed")
	}
	return nil
}

func (r *Runner) record(ctx context.Context, inv *models.Investment, subtype string, amount float64) error {
	invID := inv.ID
	planID := inv.PlanID
	entry, err := r.journal.Append(ctx, journal.Entry{
		UserID:       inv.UserID,
		Type:         models.TxTypeROI,
		Subtype:      subtype,
		Amount:       amount,
		Currency:     inv.Currency,
		InvestmentID: &invID,
		PlanID:       &planID,
		Description:  "return on investment",
		Automated:    true,
	})
	if err != nil {
		return err
	}
	return r.journal.MarkSuccess(ctx, entry.ID)
}
