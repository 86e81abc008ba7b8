package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SavingsRecord is the legacy one-row-per-day record kept for older clients.
// Upserts are keyed by (user_id, date); Amount must be positive when Saved is set.
type SavingsRecord struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UserID    uint            `gorm:"not null;uniqueIndex:idx_savings_user_date,priority:1"`
	Date      time.Time       `gorm:"not null;uniqueIndex:idx_savings_user_date,priority:2"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Saved     bool            `gorm:"default:false"`
}
