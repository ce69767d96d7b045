// Package store defines the persistence contracts for the accrual engine and
// provides their gorm/postgres implementation. Balance mutations and accrual
// claims are expressed as single conditional updates so that concurrent
// writers cannot lose updates or double-process a window.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/havenvest/engine/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientBalance is returned when a conditional debit finds the
	// balance short of the requested amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrActiveLimit is returned when a capped insert finds the owner already
	// at the active-investment limit.
	ErrActiveLimit = errors.New("active investment limit reached")

	// ErrInvalidState is returned when a conditional status transition finds
	// the record no longer in the expected state.
	ErrInvalidState = errors.New("record not in expected state")

	// ErrUnknownCurrency is returned for a currency outside the supported set.
	ErrUnknownCurrency = errors.New("unknown currency")
)

// Page bounds a listing query. A zero Limit means the store default.
type Page struct {
	Limit  int
	Offset int
}

const defaultPageLimit = 50

func (p Page) limit() int {
	if p.Limit <= 0 {
		return defaultPageLimit
	}
	return p.Limit
}

// AggregateRow is one bucket of an aggregate statistics query.
type AggregateRow struct {
	Status      string
	Currency    string
	Count       int64
	TotalAmount float64
}

// PlanSummary is the read-side projection of a plan attached to an
// investment detail.
type PlanSummary struct {
	ID           uint
	Name         string
	DailyROI     float64
	TotalROI     float64
	DurationDays int
}

// OwnerSummary is the read-side projection of an investment's owner.
type OwnerSummary struct {
	ID           uint
	Email        string
	ReferralCode string
}

// InvestmentDetail is the denormalized read model for a single investment.
type InvestmentDetail struct {
	Investment models.Investment
	Plan       PlanSummary
	Owner      OwnerSummary
}

// AccrualClaim describes one compare-and-advance accrual write. The update
// applies only while the investment is active and its next_accrual_at equals
// ObservedNextAccrualAt; a concurrent runner that already advanced the window
// makes the claim a no-op. A won claim credits the owner's profit wallet in
// the same transaction, so a claimed window is never left uncredited.
type AccrualClaim struct {
	InvestmentID          uint
	UserID                uint
	Currency              string
	ObservedNextAccrualAt time.Time
	Earned                float64
	LastAccrualAt         time.Time
	NextAccrualAt         time.Time
}

// TxFilter narrows a transaction listing. Zero values match everything.
type TxFilter struct {
	UserID   uint
	Status   string
	Type     string
	Currency string
}

// WalletStore owns wallet rows. All mutations are atomic increments stamped
// with the activity time; Debit and Transfer refuse to take a balance
// negative.
type WalletStore interface {
	Get(ctx context.Context, userID uint, kind string) (*models.Wallet, error)
	GetOrCreate(ctx context.Context, userID uint, kind string) (*models.Wallet, error)
	Credit(ctx context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind, at time.Time) (*models.Wallet, error)
	Debit(ctx context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind, at time.Time) (*models.Wallet, error)
	Transfer(ctx context.Context, userID uint, fromKind, toKind, currency string, amount float64, at time.Time) error
}

// InvestmentStore owns investment rows and the accrual claim primitive.
type InvestmentStore interface {
	CreateCapped(ctx context.Context, inv *models.Investment, maxActive int) error
	Get(ctx context.Context, id uint) (*models.Investment, error)
	Detail(ctx context.Context, id uint) (*InvestmentDetail, error)
	ListByOwner(ctx context.Context, userID uint, status string, page Page) ([]models.Investment, error)
	ListActiveByOwner(ctx context.Context, userID uint) ([]models.Investment, error)
	ListDue(ctx context.Context, now time.Time) ([]models.Investment, error)
	ClaimAccrual(ctx context.Context, claim AccrualClaim) (bool, error)
	Complete(ctx context.Context, id uint, at time.Time) error
	Cancel(ctx context.Context, id uint, reason string) error
	Suspend(ctx context.Context, id uint, reason string) error
	SetTransaction(ctx context.Context, id, transactionID uint) error
	Aggregate(ctx context.Context) ([]AggregateRow, error)
}

// TransactionStore owns journal entries. Terminal entries are immutable
// except for reversal marking and the explicit retry reset.
type TransactionStore interface {
	Create(ctx context.Context, tx *models.Transaction) error
	Get(ctx context.Context, id uint) (*models.Transaction, error)
	List(ctx context.Context, filter TxFilter, page Page) ([]models.Transaction, error)
	ListPendingDue(ctx context.Context, olderThan, now time.Time) ([]models.Transaction, error)
	MarkSuccess(ctx context.Context, id uint, at time.Time) error
	MarkFailed(ctx context.Context, id uint, reason string, at time.Time) error
	MarkExhausted(ctx context.Context, id uint, reason string, retryCount int, at time.Time) error
	MarkCancelled(ctx context.Context, id uint, reason string, at time.Time) error
	ScheduleRetry(ctx context.Context, id uint, retryCount int, nextRetryAt time.Time) error
	ResetForRetry(ctx context.Context, id uint) error
	MarkReversed(ctx context.Context, id uint, reason string, reversedBy *uint) error
	Aggregate(ctx context.Context) ([]AggregateRow, error)
}

// UserStore covers the referral and bonus fields the engine updates on the
// identity collaborator's records.
type UserStore interface {
	Get(ctx context.Context, id uint) (*models.User, error)
	SetFirstActiveInvestment(ctx context.Context, id uint, at time.Time) error
	AddReferralCredit(ctx context.Context, id uint, amount float64) error
	RecordBonusWithdrawal(ctx context.Context, id uint, at time.Time, amount float64) error
}

// PlanStore is the engine's read-only view of the plan catalog.
type PlanStore interface {
	Get(ctx context.Context, id uint) (*models.Plan, error)
	ListActive(ctx context.Context) ([]models.Plan, error)
}
