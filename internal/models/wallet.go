package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet kinds. Each user holds at most one wallet per kind, created lazily
// on first credit or debit.
const (
	WalletKindMain   = "main"
	WalletKindProfit = "profit"
	WalletKindBonus  = "bonus"
)

// Wallet statuses
const (
	WalletStatusActive    = "active"
	WalletStatusSuspended = "suspended"
	WalletStatusLocked    = "locked"
)

// Wallet owns per-user, per-kind balances in both supported currencies plus
// running totals. Balances are mutated only through atomic increments at the
// storage layer and must never go negative.
type Wallet struct {
	gorm.Model
	UserID uint   `gorm:"not null;uniqueIndex:idx_wallets_user_kind"`
	Kind   string `gorm:"size:10;not null;uniqueIndex:idx_wallets_user_kind"`

	BalanceNaira float64 `gorm:"type:decimal(15,2);default:0"`
	BalanceUSDT  float64 `gorm:"type:decimal(15,2);default:0"`

	TotalDeposits         float64 `gorm:"type:decimal(15,2);default:0"`
	TotalWithdrawals      float64 `gorm:"type:decimal(15,2);default:0"`
	TotalInvestments      float64 `gorm:"type:decimal(15,2);default:0"`
	TotalEarnings         float64 `gorm:"type:decimal(15,2);default:0"`
	TotalBonuses          float64 `gorm:"type:decimal(15,2);default:0"`
	TotalReferralEarnings float64 `gorm:"type:decimal(15,2);default:0"`

	LastActivityAt time.Time
	Status         string `gorm:"size:20;default:'active'"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// Balance returns the balance held in the given currency. Unknown currencies
// read as zero.
func (w *Wallet) Balance(currency string) float64 {
	switch currency {
	case CurrencyNaira:
		return w.BalanceNaira
	case CurrencyUSDT:
		return w.BalanceUSDT
	}
	return 0
}

// TotalKind selects the running-total bucket a ledger mutation updates.
type TotalKind string

const (
	TotalDeposits         TotalKind = "total_deposits"
	TotalWithdrawals      TotalKind = "total_withdrawals"
	TotalInvestments      TotalKind = "total_investments"
	TotalEarnings         TotalKind = "total_earnings"
	TotalBonuses          TotalKind = "total_bonuses"
	TotalReferralEarnings TotalKind = "total_referral_earnings"
)

// BalanceColumn maps a currency to its balance column name.
func BalanceColumn(currency string) (string, bool) {
	switch currency {
	case CurrencyNaira:
		return "balance_naira", true
	case CurrencyUSDT:
		return "balance_usdt", true
	}
	return "", false
}
