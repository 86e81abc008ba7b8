package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Week start values accepted in UserSettings.WeekStart.
const (
	WeekStartSunday = "sunday"
	WeekStartMonday = "monday"
)

// UserSettings holds per-user preferences (one-to-one with User).
type UserSettings struct {
	ID         uint `gorm:"primaryKey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	UserID     uint            `gorm:"uniqueIndex;not null"`
	Currency   string          `gorm:"size:3;not null;default:USD"`
	DailyGoal  decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	WeeklyGoal decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	Theme      string          `gorm:"size:16;not null;default:system"`
	WeekStart  string          `gorm:"size:8;not null;default:sunday"`
	// Passcode is either empty or exactly 6 digits (validated at the handler).
	Passcode string `gorm:"size:6"`
}
