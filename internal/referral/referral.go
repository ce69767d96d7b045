// Package referral credits referrers at investment-creation time and
// enforces the time-gated bonus-withdrawal rule.
package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenvest/engine/internal/journal"
	"github.com/havenvest/engine/internal/ledger"
	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/notify"
	"github.com/havenvest/engine/internal/store"
)

// WaitDays is the mandatory wait between bonus withdrawals, and between a
// user's first active investment and their first withdrawal.
const WaitDays = 15

// ErrUserNotFound is returned when the owner record does not exist.
var ErrUserNotFound = errors.New("user not found")

// Eligibility is the outcome of a bonus-withdrawal check. Ineligibility is a
// business result, not an error: DaysLeft and NextWithdrawalDate tell the
// caller when to come back.
type Eligibility struct {
	Eligible           bool
	DaysLeft           int
	NextWithdrawalDate time.Time
}

// Engine applies referral credits and eligibility rules.
type Engine struct {
	users    store.UserStore
	ledger   *ledger.Ledger
	journal  *journal.Journal
	notifier notify.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// New creates a referral Engine.
func New(users store.UserStore, l *ledger.Ledger, j *journal.Journal, n notify.Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		users:    users,
		ledger:   l,
		journal:  j,
		notifier: n,
		log:      log.With().Str("component", "referral").Logger(),
		now:      time.Now,
	}
}

// CreditReferral pays a referrer their cut of a new investment: the profit
// wallet is credited, the referrer's stats advance, and a settled referral
// entry lands in the journal. The notification is best effort.
func (e *Engine) CreditReferral(ctx context.Context, referrerID uint, amount float64, currency string, investmentID uint) (*models.Transaction, error) {
	if _, err := e.ledger.Credit(ctx, referrerID, models.WalletKindProfit, currency, amount, models.TotalReferralEarnings); err != nil {
		return nil, fmt.Errorf("failed to credit referrer wallet: %w", err)
	}

	if err := e.users.AddReferralCredit(ctx, referrerID, amount); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update referral stats: %w", err)
	}

	invID := investmentID
	tx, err := e.journal.Append(ctx, journal.Entry{
		UserID:       referrerID,
		Type:         models.TxTypeReferral,
		Amount:       amount,
		Currency:     currency,
		InvestmentID: &invID,
		Description:  "referral bonus",
		Automated:    true,
	})
	if err != nil {
		return nil, err
	}
	if err := e.journal.MarkSuccess(ctx, tx.ID); err != nil {
		return nil, err
	}

	if err := e.notifier.Send(ctx, notify.Message{
		UserID:   referrerID,
		Event:    notify.EventReferralBonus,
		Amount:   amount,
		Currency: currency,
	}); err != nil {
		e.log.Warn().Err(err).Uint("user_id", referrerID).Msg("referral notification failed")
	}

	e.log.Info().
		Uint("referrer_id", referrerID).
		Uint("investment_id", investmentID).
		Float64("amount", amount).
		Str("currency", currency).
		Msg("referral bonus credited")
	return tx, nil
}

// CanWithdrawBonus evaluates the withdrawal gate for an owner. The reference
// date is the last bonus withdrawal, or the first active investment when the
// owner never withdrew.
func (e *Engine) CanWithdrawBonus(ctx context.Context, ownerID uint) (Eligibility, error) {
	user, err := e.users.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Eligibility{}, ErrUserNotFound
		}
		return Eligibility{}, fmt.Errorf("failed to load user: %w", err)
	}

	if user.FirstActiveInvestmentAt == nil {
		return Eligibility{DaysLeft: WaitDays}, nil
	}

	reference := *user.FirstActiveInvestmentAt
	if user.LastBonusWithdrawalAt != nil {
		reference = *user.LastBonusWithdrawalAt
	}

	elapsed := int(e.now().Sub(reference).Hours() / 24)
	daysLeft := WaitDays - elapsed
	if daysLeft <= 0 {
		return Eligibility{Eligible: true}, nil
	}
	return Eligibility{
		DaysLeft:           daysLeft,
		NextWithdrawalDate: reference.AddDate(0, 0, WaitDays),
	}, nil
}

// RecordWithdrawal stamps the owner's bonus-withdrawal fields after a
// successful payout.
func (e *Engine) RecordWithdrawal(ctx context.Context, ownerID uint, amount float64) error {
	if err := e.users.RecordBonusWithdrawal(ctx, ownerID, e.now().UTC(), amount); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to record bonus withdrawal: %w", err)
	}
	return nil
}
