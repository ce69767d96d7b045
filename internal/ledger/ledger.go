// Package ledger owns wallet balance movements. Every mutation funnels
// through the store's atomic increment/decrement primitives, so the ledger
// never reads a balance and writes it back.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/havenvest/engine/internal/metrics"
	"github.com/havenvest/engine/internal/models"
	"github.com/havenvest/engine/internal/store"
)

var (
	// ErrNonPositiveAmount is returned for a zero or negative amount.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrSameWallet is returned when a transfer names the same wallet kind
	// on both sides.
	ErrSameWallet = errors.New("transfer source and destination are the same wallet")

	// ErrInsufficientFunds is returned when a debit or transfer would take
	// a balance negative. The concrete error is an *InsufficientFundsError
	// carrying the shortfall.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownCurrency is returned for a currency outside the supported set.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrWalletNotFound is returned when a read finds no wallet row.
	ErrWalletNotFound = errors.New("wallet not found")
)

// InsufficientFundsError reports how short a balance was for a debit.
type InsufficientFundsError struct {
	Kind      string
	Currency  string
	Available float64
	Required  float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s wallet: have %.2f %s, need %.2f",
		e.Kind, e.Available, e.Currency, e.Required)
}

// Unwrap lets errors.Is match ErrInsufficientFunds.
func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// Ledger applies balance movements to user wallets.
type Ledger struct {
	wallets store.WalletStore
	log     zerolog.Logger
	now     func() time.Time
}

// New creates a Ledger over the given wallet store.
func New(wallets store.WalletStore, log zerolog.Logger) *Ledger {
	return &Ledger{
		wallets: wallets,
		log:     log.With().Str("component", "ledger").Logger(),
		now:     time.Now,
	}
}

// Deposit credits the user's main wallet and bumps the deposit total.
func (l *Ledger) Deposit(ctx context.Context, userID uint, currency string, amount float64) (*models.Wallet, error) {
	return l.Credit(ctx, userID, models.WalletKindMain, currency, amount, models.TotalDeposits)
}

// Withdraw debits the user's main wallet and bumps the withdrawal total.
func (l *Ledger) Withdraw(ctx context.Context, userID uint, currency string, amount float64) (*models.Wallet, error) {
	return l.Debit(ctx, userID, models.WalletKindMain, currency, amount, models.TotalWithdrawals)
}

// Credit adds amount to the named wallet's balance and running total. The
// wallet row is created on first touch.
func (l *Ledger) Credit(ctx context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, ErrNonPositiveAmount
	}
	wallet, err := l.wallets.Credit(ctx, userID, kind, currency, amount, total, l.now().UTC())
	if err != nil {
		metrics.RecordLedgerOperation("credit", "failed")
		return nil, l.translate(err, userID, kind, currency, amount)
	}
	metrics.RecordLedgerOperation("credit", "success")
	l.log.Debug().
		Uint("user_id", userID).
		Str("kind", kind).
		Str("currency", currency).
		Float64("amount", amount).
		Msg("wallet credited")
	return wallet, nil
}

// Debit subtracts amount from the named wallet. The subtraction is guarded
// in the store, so a concurrent spender cannot push the balance negative.
func (l *Ledger) Debit(ctx context.Context, userID uint, kind, currency string, amount float64, total models.TotalKind) (*models.Wallet, error) {
	if amount <= 0 {
		return nil, ErrNonPositiveAmount
	}
	wallet, err := l.wallets.Debit(ctx, userID, kind, currency, amount, total, l.now().UTC())
	if err != nil {
		metrics.RecordLedgerOperation("debit", "failed")
		return nil, l.translate(err, userID, kind, currency, amount)
	}
	metrics.RecordLedgerOperation("debit", "success")
	l.log.Debug().
		Uint("user_id", userID).
		Str("kind", kind).
		Str("currency", currency).
		Float64("amount", amount).
		Msg("wallet debited")
	return wallet, nil
}

// Transfer moves amount between two of the user's wallets atomically.
// Running totals are untouched: an internal move is not a deposit or a
// withdrawal.
func (l *Ledger) Transfer(ctx context.Context, userID uint, fromKind, toKind, currency string, amount float64) error {
	if amount <= 0 {
		return ErrNonPositiveAmount
	}
	if fromKind == toKind {
		return ErrSameWallet
	}
	err := l.wallets.Transfer(ctx, userID, fromKind, toKind, currency, amount, l.now().UTC())
	if err != nil {
		metrics.RecordLedgerOperation("transfer", "failed")
		return l.translate(err, userID, fromKind, currency, amount)
	}
	metrics.RecordLedgerOperation("transfer", "success")
	l.log.Debug().
		Uint("user_id", userID).
		Str("from", fromKind).
		Str("to", toKind).
		Str("currency", currency).
		Float64("amount", amount).
		Msg("wallet transfer applied")
	return nil
}

// Balance returns the named wallet's balance in the given currency. A user
// who never touched that wallet has a zero balance, not an error.
func (l *Ledger) Balance(ctx context.Context, userID uint, kind, currency string) (float64, error) {
	if _, ok := models.BalanceColumn(currency); !ok {
		return 0, ErrUnknownCurrency
	}
	wallet, err := l.wallets.Get(ctx, userID, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read wallet: %w", err)
	}
	return wallet.Balance(currency), nil
}

// HasSufficientFunds reports whether the named wallet can cover amount.
func (l *Ledger) HasSufficientFunds(ctx context.Context, userID uint, kind, currency string, amount float64) (bool, error) {
	if amount <= 0 {
		return false, ErrNonPositiveAmount
	}
	balance, err := l.Balance(ctx, userID, kind, currency)
	if err != nil {
		return false, err
	}
	return balance >= amount, nil
}

// Wallet returns the full wallet row, creating it on first touch.
func (l *Ledger) Wallet(ctx context.Context, userID uint, kind string) (*models.Wallet, error) {
	wallet, err := l.wallets.GetOrCreate(ctx, userID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	return wallet, nil
}

func (l *Ledger) translate(err error, userID uint, kind, currency string, amount float64) error {
	switch {
	case errors.Is(err, store.ErrInsufficientBalance):
		available := 0.0
		if wallet, getErr := l.wallets.Get(context.Background(), userID, kind); getErr == nil {
			available = wallet.Balance(currency)
		}
		return &InsufficientFundsError{
			Kind:      kind,
			Currency:  currency,
			Available: available,
			Required:  amount,
		}
	case errors.Is(err, store.ErrUnknownCurrency):
		return ErrUnknownCurrency
	case errors.Is(err, store.ErrNotFound):
		return ErrWalletNotFound
	default:
		return fmt.Errorf("ledger operation failed: %w", err)
	}
}
