package localstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"savingsd/models"
)

// CachedTransaction mirrors a remote transaction row. Rows created while
// offline have no RemoteID until the queued create is replayed.
type CachedTransaction struct {
	ID          uint            `gorm:"primaryKey"`
	RemoteID    *uint           `gorm:"uniqueIndex"`
	UserID      uint            `gorm:"not null;index:idx_ctx_user_date,priority:1"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Type        string          `gorm:"size:16;not null"`
	Date        time.Time       `gorm:"not null;index:idx_ctx_user_date,priority:2"`
	Description string          `gorm:"size:512"`
	Deleted     bool            `gorm:"default:false"`
	SyncedAt    time.Time
}

func (c CachedTransaction) toModel() models.Transaction {
	tx := models.Transaction{
		UserID:      c.UserID,
		Amount:      c.Amount,
		Type:        c.Type,
		Date:        c.Date,
		Description: c.Description,
		Deleted:     c.Deleted,
	}
	if c.RemoteID != nil {
		tx.ID = *c.RemoteID
	}
	return tx
}

// ReplaceTransactions swaps the mirrored rows for userID with the given
// remote snapshot. Local-only rows (queued creates not yet replayed) are
// kept untouched.
func (s *Store) ReplaceTransactions(userID uint, txs []models.Transaction) error {
	now := time.Now()
	err := s.db.Transaction(func(db *gorm.DB) error {
		if err := db.Where("user_id = ? AND remote_id IS NOT NULL", userID).
			Delete(&CachedTransaction{}).Error; err != nil {
			return err
		}
		for _, tx := range txs {
			rid := tx.ID
			row := CachedTransaction{
				RemoteID:    &rid,
				UserID:      tx.UserID,
				Amount:      tx.Amount,
				Type:        tx.Type,
				Date:        tx.Date,
				Description: tx.Description,
				Deleted:     tx.Deleted,
				SyncedAt:    now,
			}
			if err := db.Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace mirrored transactions: %w", err)
	}
	return nil
}

// AddLocalTransaction records a transaction created while offline so reads
// see it before the queued create reaches the remote store.
func (s *Store) AddLocalTransaction(tx models.Transaction) error {
	row := CachedTransaction{
		UserID:      tx.UserID,
		Amount:      tx.Amount,
		Type:        tx.Type,
		Date:        tx.Date,
		Description: tx.Description,
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record local transaction: %w", err)
	}
	return nil
}

// TransactionsInRange returns mirrored transactions for userID with dates in
// [from, to], oldest first. Soft-deleted rows are excluded.
func (s *Store) TransactionsInRange(userID uint, from, to time.Time) ([]models.Transaction, error) {
	var rows []CachedTransaction
	err := s.db.
		Where("user_id = ? AND date >= ? AND date <= ? AND deleted = ?", userID, from, to, false).
		Order("date asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query mirrored transactions: %w", err)
	}
	txs := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, r.toModel())
	}
	return txs, nil
}

// MirroredTransaction looks up one mirrored row by its remote id.
func (s *Store) MirroredTransaction(userID, remoteID uint) (models.Transaction, bool, error) {
	var row CachedTransaction
	err := s.db.Where("user_id = ? AND remote_id = ?", userID, remoteID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Transaction{}, false, nil
	}
	if err != nil {
		return models.Transaction{}, false, fmt.Errorf("failed to read mirrored transaction: %w", err)
	}
	return row.toModel(), true, nil
}

// UpdateMirroredTransaction rewrites the mirrored copy of tx so offline reads
// see the edit before the queued op replays.
func (s *Store) UpdateMirroredTransaction(tx models.Transaction) error {
	err := s.db.Model(&CachedTransaction{}).
		Where("user_id = ? AND remote_id = ?", tx.UserID, tx.ID).
		Updates(map[string]any{
			"amount":      tx.Amount,
			"type":        tx.Type,
			"date":        tx.Date,
			"description": tx.Description,
			"deleted":     tx.Deleted,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update mirrored transaction: %w", err)
	}
	return nil
}

// ClearLocalOnly drops offline-created rows for userID. Call it only after
// the queued creates backing them have been replayed.
func (s *Store) ClearLocalOnly(userID uint) error {
	if err := s.db.Where("user_id = ? AND remote_id IS NULL", userID).
		Delete(&CachedTransaction{}).Error; err != nil {
		return fmt.Errorf("failed to clear local-only transactions: %w", err)
	}
	return nil
}

// MirroredUsers returns the distinct user ids present in the mirror.
func (s *Store) MirroredUsers() ([]uint, error) {
	var ids []uint
	if err := s.db.Model(&CachedTransaction{}).Distinct("user_id").Pluck("user_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list mirrored users: %w", err)
	}
	return ids, nil
}
