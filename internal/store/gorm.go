package store

import (
	"errors"

	"gorm.io/gorm"
)

// Store bundles the gorm/postgres implementations of the engine's
// persistence contracts.
type Store struct {
	Wallets      *Wallets
	Investments  *Investments
	Transactions *Transactions
	Users        *Users
	Plans        *Plans
}

// New creates a Store backed by the given database handle.
func New(db *gorm.DB) *Store {
	return &Store{
		Wallets:      &Wallets{db: db},
		Investments:  &Investments{db: db},
		Transactions: &Transactions{db: db},
		Users:        &Users{db: db},
		Plans:        &Plans{db: db},
	}
}

// Wallets is the gorm implementation of WalletStore.
type Wallets struct {
	db *gorm.DB
}

// Investments is the gorm implementation of InvestmentStore.
type Investments struct {
	db *gorm.DB
}

// Transactions is the gorm implementation of TransactionStore.
type Transactions struct {
	db *gorm.DB
}

// Users is the gorm implementation of UserStore.
type Users struct {
	db *gorm.DB
}

// Plans is the gorm implementation of PlanStore.
type Plans struct {
	db *gorm.DB
}

var (
	_ WalletStore      = (*Wallets)(nil)
	_ InvestmentStore  = (*Investments)(nil)
	_ TransactionStore = (*Transactions)(nil)
	_ UserStore        = (*Users)(nil)
	_ PlanStore        = (*Plans)(nil)
)

// translate maps gorm errors to store sentinels.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
