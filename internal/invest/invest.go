// Package invest owns the investment lifecycle: creation with its funding
// debit and referral payout, manual completion and cancellation, and the
// time-gated bonus withdrawal.
package invest

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
	"github.com/havenvest/engine/internal/referral"
	"github.com/havenvest/engine/internal/store"
)

// MaxActiveInvestments caps concurrently active investments per owner. The
// service rejects capped owners up front; the insert transaction enforces
// the cap authoritatively against concurrent creations.
const MaxActiveInvestments = 3

var (
	// ErrPlanNotFound is returned when the requested plan does not exist or
	// is no longer open for investment.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrInvestmentNotFound is returned when the requested investment does
	// not exist.
	ErrInvestmentNotFound = errors.New("investment not found")

	// ErrLimitExceeded is returned when the owner is already at the active
	// investment cap.
	ErrLimitExceeded = errors.New("active investment limit exceeded")

	// ErrInvalidState is returned when a transition targets an investment
	// that is not active.
	ErrInvalidState = errors.New("investment is not active")

	// ErrValidation is the sentinel matched by ValidationError.
	ErrValidation = errors.New("validation failed")
)

// ValidationError reports a rejected creation parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// CreateParams are the caller-supplied inputs for a new investment.
type CreateParams struct {
	OwnerID      uint
	PlanID       uint
	Amount       float64
	Currency     string
	AutoReinvest bool
}

// BonusWithdrawal is the outcome of a bonus-withdrawal attempt. An
// ineligible owner gets the eligibility details back, not an error.
type BonusWithdrawal struct {
	Eligibility referral.Eligibility
	Amounts     map[string]float64
	Total       float64
}

// Service is the investment lifecycle manager.
type Service struct {
	plans       store.PlanStore
	investments store.InvestmentStore
	users       store.UserStore
	ledger      *ledger.Ledger
	journal     *journal.Journal
	referrals   *referral.Engine
	notifier    notify.Notifier
	log         zerolog.Logger
	now         func() time.Time
}

// New creates the lifecycle manager.
func New(
	plans store.PlanStore,
	investments store.InvestmentStore,
	users store.UserStore,
	l *ledger.Ledger,
	j *journal.Journal,
	r *referral.Engine,
	n notify.Notifier,
	log zerolog.Logger,
) *Service {
	return &Service{
		plans:       plans,
		investments: investments,
		users:       users,
		ledger:      l,
		journal:     j,
		referrals:   r,
		notifier:    n,
		log:         log.With().Str("component", "invest").Logger(),
		now:         time.Now,
	}
}

// CreateInvestment validates the request against the plan, persists the
// investment under the per-owner cap, funds it from the main wallet and pays
// the referrer. The confirmation notification is best effort.
func (s *Service) CreateInvestment(ctx context.Context, p CreateParams) (*models.Investment, error) {
	plan, err := s.plans.Get(ctx, p.PlanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if plan.Status != models.PlanStatusActive {
		return nil, ErrPlanNotFound
	}

	// Early cap check so a capped owner hears about the cap, not about
	// whatever else is wrong with the request. The insert transaction
	// re-checks it authoritatively.
	active, err := s.investments.ListActiveByOwner(ctx, p.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active investments: %w", err)
	}
	if len(active) >= MaxActiveInvestments {
		return nil, ErrLimitExceeded
	}

	if p.Currency != plan.Currency {
		return nil, &ValidationError{Field: "currency", Reason: fmt.Sprintf("plan settles in %s", plan.Currency)}
	}
	if !plan.AllowsAmount(p.Amount) {
		return nil, &ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be between %.2f and %.2f", plan.MinAmount, plan.MaxAmount),
		}
	}

	ok, err := s.ledger.HasSufficientFunds(ctx, p.OwnerID, models.WalletKindMain, p.Currency, p.Amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		available, _ := s.ledger.Balance(ctx, p.OwnerID, models.WalletKindMain, p.Currency)
		return nil, &ledger.InsufficientFundsError{
			Kind:      models.WalletKindMain,
			Currency:  p.Currency,
			Available: available,
			Required:  p.Amount,
		}
	}

	now := s.now().UTC()
	inv := &models.Investment{
		UserID:         p.OwnerID,
		PlanID:         plan.ID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		DailyROI:       plan.DailyROI,
		TotalROI:       plan.TotalROI,
		DurationDays:   plan.DurationDays,
		StartDate:      now,
		EndDate:        now.AddDate(0, 0, plan.DurationDays),
		ExpectedReturn: p.Amount * plan.TotalROI / 100,
		Status:         models.InvestmentStatusActive,
		AutoReinvest:   p.AutoReinvest,
		NextAccrualAt:  now.Truncate(time.Hour).Add(time.Hour),
		WelcomeBonus:   p.Amount * plan.WelcomeBonus / 100,
		ReferralBonus:  p.Amount * plan.ReferralBonus / 100,
	}
	if err := s.investments.CreateCapped(ctx, inv, MaxActiveInvestments); err != nil {
		if errors.Is(err, store.ErrActiveLimit) {
			return nil, ErrLimitExceeded
		}
		return nil, fmt.Errorf("failed to persist investment: %w", err)
	}

	if err := s.users.SetFirstActiveInvestment(ctx, p.OwnerID, now); err != nil {
		s.log.Error().Err(err).Uint("user_id", p.OwnerID).Msg("failed to stamp first active investment")
	}

	planID := plan.ID
	entry, err := s.journal.Append(ctx, journal.Entry{
		UserID:       p.OwnerID,
		Type:         models.TxTypeInvestment,
		Amount:       p.Amount,
		Currency:     p.Currency,
		InvestmentID: &inv.ID,
		PlanID:       &planID,
		Description:  fmt.Sprintf("investment in %s", plan.Name),
	})
	if err != nil {
		return nil, s.abandon(ctx, inv.ID, fmt.Errorf("failed to journal investment: %w", err))
	}

	if _, err := s.ledger.Debit(ctx, p.OwnerID, models.WalletKindMain, p.Currency, p.Amount, models.TotalInvestments); err != nil {
		if markErr := s.journal.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			s.log.Error().Err(markErr).Uint("transaction_id", entry.ID).Msg("failed to settle journal entry")
		}
		return nil, s.abandon(ctx, inv.ID, err)
	}
	if err := s.journal.MarkSuccess(ctx, entry.ID); err != nil {
		s.log.Error().Err(err).Uint("transaction_id", entry.ID).Msg("failed to settle journal entry")
	}
	if err := s.investments.SetTransaction(ctx, inv.ID, entry.ID); err != nil {
		s.log.Error().Err(err).Uint("investment_id", inv.ID).Msg("failed to link funding transaction")
	}
	entryID := entry.ID
	inv.TransactionID = &entryID

	if inv.ReferralBonus > 0 {
		user, err := s.users.Get(ctx, p.OwnerID)
		if err != nil {
			s.log.Error().Err(err).Uint("user_id", p.OwnerID).Msg("failed to load owner for referral check")
		} else if user.WasReferred() {
			if _, err := s.referrals.CreditReferral(ctx, *user.ReferrerID, inv.ReferralBonus, p.Currency, inv.ID); err != nil {
				s.log.Error().Err(err).
					Uint("referrer_id", *user.ReferrerID).
					Uint("investment_id", inv.ID).
					Msg("failed to credit referrer")
			}
		}
	}

	if err := s.notifier.Send(ctx, notify.Message{
		UserID:   p.OwnerID,
		Event:    notify.EventInvestmentCreated,
		Amount:   p.Amount,
		Currency: p.Currency,
		Body:     plan.Name,
	}); err != nil {
		s.log.Warn().Err(err).Uint("user_id", p.OwnerID).Msg("confirmation notification failed")
	}

	metrics.RecordInvestmentCreated(p.Currency)
	s.log.Info().
		Uint("investment_id", inv.ID).
		Uint("user_id", p.OwnerID).
		Uint("plan_id", plan.ID).
		Float64("amount", p.Amount).
		Str("currency", p.Currency).
		Msg("investment created")
	return inv, nil
}

// abandon cancels an investment whose funding could not complete so the
// record is not left silently active and unfunded.
func (s *Service) abandon(ctx context.Context, id uint, cause error) error {
	if err := s.investments.Cancel(ctx, id, "funding failed: "+cause.Error()); err != nil {
		s.log.Error().Err(err).Uint("investment_id", id).Msg("failed to cancel unfunded investment")
	}
	return cause
}

// CompleteInvestment manually closes an active investment, stamping the end
// date at now.
func (s *Service) CompleteInvestment(ctx context.Context, id uint) error {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.investments.Complete(ctx, id, s.now().UTC()); err != nil {
		return s.transitionErr(err)
	}
	if err := s.notifier.Send(ctx, notify.Message{
		UserID:   inv.UserID,
		Event:    notify.EventInvestmentCompleted,
		Amount:   inv.EarnedAmount,
		Currency: inv.Currency,
	}); err != nil {
		s.log.Warn().Err(err).Uint("user_id", inv.UserID).Msg("completion notification failed")
	}
	s.log.Info().Uint("investment_id", id).Msg("investment completed")
	return nil
}

// CancelInvestment cancels an active investment, recording the reason in its
// notes. Accrued credits are not reversed.
func (s *Service) CancelInvestment(ctx context.Context, id uint, reason string) error {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.investments.Cancel(ctx, id, reason); err != nil {
		return s.transitionErr(err)
	}
	if err := s.notifier.Send(ctx, notify.Message{
		UserID:   inv.UserID,
		Event:    notify.EventInvestmentCancelled,
		Amount:   inv.Amount,
		Currency: inv.Currency,
		Body:     reason,
	}); err != nil {
		s.log.Warn().Err(err).Uint("user_id", inv.UserID).Msg("cancellation notification failed")
	}
	s.log.Info().Uint("investment_id", id).Str("reason", reason).Msg("investment cancelled")
	return nil
}

func (s *Service) transitionErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrInvestmentNotFound
	case errors.Is(err, store.ErrInvalidState):
		return ErrInvalidState
	default:
		return fmt.Errorf("investment transition failed: %w", err)
	}
}

// WithdrawBonus pays out the welcome and referral bonuses of the owner's
// active investments into their profit wallet, subject to the waiting
// period. Ineligibility is reported in the result, not as an error.
func (s *Service) WithdrawBonus(ctx context.Context, ownerID uint) (*BonusWithdrawal, error) {
	elig, err := s.referrals.CanWithdrawBonus(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return &BonusWithdrawal{Eligibility: elig}, nil
	}

	active, err := s.investments.ListActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active investments: %w", err)
	}

	amounts := make(map[string]float64)
	total := 0.0
	for i := range active {
		bonus := active[i].WelcomeBonus + active[i].ReferralBonus
		amounts[active[i].Currency] += bonus
		total += bonus
	}
	result := &BonusWithdrawal{Eligibility: elig, Amounts: amounts, Total: total}
	if total == 0 {
		return result, nil
	}

	for currency, amount := range amounts {
		if amount == 0 {
			continue
		}
		if _, err := s.ledger.Credit(ctx, ownerID, models.WalletKindProfit, currency, amount, models.TotalBonuses); err != nil {
			return nil, err
		}
		entry, err := s.journal.Append(ctx, journal.Entry{
			UserID:      ownerID,
			Type:        models.TxTypeBonus,
			Amount:      amount,
			Currency:    currency,
			Description: "bonus withdrawal",
		})
		if err != nil {
			return nil, err
		}
		if err := s.journal.MarkSuccess(ctx, entry.ID); err != nil {
			s.log.Error().Err(err).Uint("transaction_id", entry.ID).Msg("failed to settle journal entry")
		}
	}

	if err := s.referrals.RecordWithdrawal(ctx, ownerID, total); err != nil {
		return nil, err
	}

	if err := s.notifier.Send(ctx, notify.Message{
		UserID: ownerID,
		Event:  notify.EventBonusWithdrawn,
		Amount: total,
	}); err != nil {
		s.log.Warn().Err(err).Uint("user_id", ownerID).Msg("bonus notification failed")
	}
	s.log.Info().Uint("user_id", ownerID).Float64("total", total).Msg("bonus withdrawn")
	return result, nil
}

// Get returns one investment.
func (s *Service) Get(ctx context.Context, id uint) (*models.Investment, error) {
	inv, err := s.investments.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvestmentNotFound
		}
		return nil, fmt.Errorf("failed to load investment: %w", err)
	}
	return inv, nil
}

// Detail returns the denormalized read model for one investment.
func (s *Service) Detail(ctx context.Context, id uint) (*store.InvestmentDetail, error) {
	detail, err := s.investments.Detail(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvestmentNotFound
		}
		return nil, fmt.Errorf("failed to load investment detail: %w", err)
	}
	return detail, nil
}

// List returns an owner's investments, optionally narrowed by status.
func (s *Service) List(ctx context.Context, ownerID uint, status string, page store.Page) ([]models.Investment, error) {
	items, err := s.investments.ListByOwner(ctx, ownerID, status, page)
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	return items, nil
}

// Stats returns investment counts and sums grouped by status and currency.
func (s *Service) Stats(ctx context.Context) ([]store.AggregateRow, error) {
	rows, err := s.investments.Aggregate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate investments: %w", err)
	}
	return rows, nil
}
