package models

import (
	"time"

	"gorm.io/gorm"
)

// Investment statuses. Transitions are one-directional: an active investment
// may become completed, cancelled or suspended; completed and cancelled are
// terminal.
const (
	InvestmentStatusActive    = "active"
	InvestmentStatusCompleted = "completed"
	InvestmentStatusCancelled = "cancelled"
	InvestmentStatusSuspended = "suspended"
)

// Investment represents a user's position in a plan. Accrual bookkeeping
// (EarnedAmount, LastAccrualAt, NextAccrualAt) is advanced only by the
// accrual runner; lifecycle transitions only by the lifecycle manager.
type Investment struct {
	gorm.Model
	UserID         uint    `gorm:"index;not null"`
	PlanID         uint    `gorm:"index;not null"`
	Amount         float64 `gorm:"type:decimal(15,2);not null"`
	Currency       string  `gorm:"size:10;not null;index"`
	DailyROI       float64 `gorm:"type:decimal(5,2);not null"`
	TotalROI       float64 `gorm:"type:decimal(5,2);not null"`
	DurationDays   int     `gorm:"not null"`
	StartDate      time.Time
	EndDate        time.Time  `gorm:"index"`
	EarnedAmount   float64    `gorm:"type:decimal(15,2);default:0"`
	ExpectedReturn float64    `gorm:"type:decimal(15,2);default:0"`
	Status         string     `gorm:"size:20;default:'active';index"`
	AutoReinvest   bool       `gorm:"default:false"`
	LastAccrualAt  *time.Time
	NextAccrualAt  time.Time `gorm:"index"`
	WelcomeBonus   float64   `gorm:"type:decimal(15,2);default:0"` // fixed amount at creation
	ReferralBonus  float64   `gorm:"type:decimal(15,2);default:0"` // fixed amount at creation
	TransactionID  *uint     `gorm:"index"`
	Notes          string    `gorm:"type:text"`

	// Relationships
	Plan Plan `gorm:"foreignKey:PlanID"`
	User User `gorm:"foreignKey:UserID"`
}

func (Investment) TableName() string {
	return "investments"
}

// DailyAmount is the return owed per full day.
func (i *Investment) DailyAmount() float64 {
	return i.Amount * i.DailyROI / 100
}

// HourlyAmount is the return owed per accrual window.
func (i *Investment) HourlyAmount() float64 {
	return i.DailyAmount() / 24
}

// IsTerminal reports whether the investment can no longer change status.
func (i *Investment) IsTerminal() bool {
	return i.Status == InvestmentStatusCompleted || i.Status == InvestmentStatusCancelled
}

// HasMatured reports whether the investment's term has elapsed at now.
func (i *Investment) HasMatured(now time.Time) bool {
	return !now.Before(i.EndDate)
}
