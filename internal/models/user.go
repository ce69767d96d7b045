package models

import (
	"time"

	"gorm.io/gorm"
)

// User carries the referral and bonus-eligibility fields the engine reads
// and updates. Identity and authentication live with an external
// collaborator; only these fields belong to the engine's contract.
type User struct {
	gorm.Model
	Email        string `gorm:"size:191;uniqueIndex"`
	ReferralCode string `gorm:"size:20;uniqueIndex"`
	ReferrerID   *uint  `gorm:"index"`

	ReferralCount    int     `gorm:"default:0"`
	ReferralEarnings float64 `gorm:"type:decimal(15,2);default:0"`

	FirstActiveInvestmentAt *time.Time
	LastBonusWithdrawalAt   *time.Time
	TotalBonusWithdrawn     float64 `gorm:"type:decimal(15,2);default:0"`
}

func (User) TableName() string {
	return "users"
}

// WasReferred reports whether the user signed up through a referrer.
func (u *User) WasReferred() bool {
	return u.ReferrerID != nil
}
