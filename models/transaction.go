package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. Amounts are always stored positive; the type carries the sign.
const (
	TypeDeposit    = "deposit"
	TypeWithdrawal = "withdrawal"
)

// Transaction is a single deposit or withdrawal belonging to a user.
type Transaction struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UserID      uint            `gorm:"not null;index:idx_tx_user_date,priority:1"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Type        string          `gorm:"size:16;not null"`
	Date        time.Time       `gorm:"not null;index:idx_tx_user_date,priority:2"`
	Description string          `gorm:"size:512"`
	// Deleted marks the row as removed without dropping it, so offline clients
	// can still reconcile against it.
	Deleted bool `gorm:"default:false;index"`
}

// ValidType reports whether t is one of the two accepted transaction types.
func ValidType(t string) bool {
	return t == TypeDeposit || t == TypeWithdrawal
}
