package models

import (
	"time"

	"gorm.io/gorm"
)

// Transaction types
const (
	TxTypeDeposit    = "deposit"
	TxTypeWithdrawal = "withdrawal"
	TxTypeInvestment = "investment"
	TxTypeROI        = "roi"
	TxTypeReferral   = "referral"
	TxTypeBonus      = "bonus"
	TxTypeTransfer   = "transfer"
	TxTypeAdjustment = "adjustment"
)

// Transaction statuses. pending entries are advanced by the retry processor;
// success, failed and cancelled are terminal, except for an explicit retry
// reset on failed entries and reversal marking.
const (
	TxStatusPending   = "pending"
	TxStatusSuccess   = "success"
	TxStatusFailed    = "failed"
	TxStatusCancelled = "cancelled"
)

// Subtypes distinguishing roi journal entries by cadence.
const (
	TxSubtypeHourly     = "hourly"
	TxSubtypeDaily      = "daily"
	TxSubtypeCompletion = "completion"
)

// Retry policy for pending money movements.
const (
	MaxRetryCount   = 3
	OverdueAfter    = 24 * time.Hour
	RetryAgeMinimum = 30 * time.Minute
	RetryBackoff    = 30 * time.Minute
)

// Transaction is a journal entry recording a money-movement intent and its
// terminal outcome.
type Transaction struct {
	gorm.Model
	UserID     uint    `gorm:"index;not null"`
	Type       string  `gorm:"size:20;not null;index"`
	Subtype    string  `gorm:"size:20"`
	Status     string  `gorm:"size:20;default:'pending';index"`
	Amount     float64 `gorm:"type:decimal(15,2);not null"`
	Currency   string  `gorm:"size:10;not null;index"`
	Fee        float64 `gorm:"type:decimal(15,2);default:0"`
	FeePercent float64 `gorm:"type:decimal(5,2);default:0"`

	Reference    string `gorm:"size:36;uniqueIndex;not null"`
	InvestmentID *uint  `gorm:"index"`
	PlanID       *uint  `gorm:"index"`
	RelatedID    *uint  `gorm:"index"` // related journal entry (transfer leg, reversal)
	Description  string `gorm:"type:text"`

	RetryCount  int `gorm:"default:0"`
	NextRetryAt *time.Time
	ProcessedAt *time.Time
	FailedAt    *time.Time
	CancelledAt *time.Time
	FailReason  string `gorm:"type:text"`

	Reversed       bool `gorm:"default:false"`
	ReversalReason string
	ReversedByID   *uint

	Priority  int  `gorm:"default:5;index"`
	Automated bool `gorm:"default:false"` // system-originated vs user-originated
}

func (Transaction) TableName() string {
	return "transactions"
}

// NetAmount is the amount after fees.
func (t *Transaction) NetAmount() float64 {
	return t.Amount - t.Fee
}

// IsTerminal reports whether the entry has reached a final status.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TxStatusSuccess, TxStatusFailed, TxStatusCancelled:
		return true
	}
	return false
}

// IsOverdue reports whether a pending entry has aged past the forced-failure
// threshold at now.
func (t *Transaction) IsOverdue(now time.Time) bool {
	return t.Status == TxStatusPending && now.Sub(t.CreatedAt) > OverdueAfter
}

// CanBeRetried reports whether the entry has retry attempts left.
func (t *Transaction) CanBeRetried() bool {
	return t.RetryCount < MaxRetryCount
}
