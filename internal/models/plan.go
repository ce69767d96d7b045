package models

import (
	"gorm.io/gorm"
)

// Supported currencies. Wallets carry one balance column per currency.
const (
	CurrencyNaira = "naira"
	CurrencyUSDT  = "usdt"
)

// Plan statuses
const (
	PlanStatusActive   = "active"
	PlanStatusArchived = "archived"
)

// Plan represents an investment plan from the catalog. The engine treats
// plans as read-only reference data.
type Plan struct {
	gorm.Model
	Name          string  `gorm:"size:100;not null"`
	MinAmount     float64 `gorm:"type:decimal(15,2);not null"`
	MaxAmount     float64 `gorm:"type:decimal(15,2);not null"`
	Currency      string  `gorm:"size:10;not null;index"`
	DailyROI      float64 `gorm:"type:decimal(5,2);not null"` // percent per day
	TotalROI      float64 `gorm:"type:decimal(5,2);not null"` // percent over the full duration
	DurationDays  int     `gorm:"not null"`
	WelcomeBonus  float64 `gorm:"type:decimal(5,2);default:0"` // percent of principal
	ReferralBonus float64 `gorm:"type:decimal(5,2);default:0"` // percent of principal
	Status        string  `gorm:"size:20;default:'active';index"`
}

func (Plan) TableName() string {
	return "plans"
}

// AllowsAmount reports whether amount falls inside the plan's investable range.
func (p *Plan) AllowsAmount(amount float64) bool {
	return amount >= p.MinAmount && amount <= p.MaxAmount
}
