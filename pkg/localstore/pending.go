package localstore

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// PendingOp is one buffered write waiting for connectivity. Rows replay in
// insertion (id) order and are deleted only after the remote call succeeds.
type PendingOp struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	Op          string `gorm:"size:16;not null"`
	TargetTable string `gorm:"size:64;not null"`
	Payload     []byte `gorm:"not null"`
	Attempts    int    `gorm:"default:0"`
	LastError   string `gorm:"size:512"`
}

// AppendOp appends op to the queue.
func (s *Store) AppendOp(op *PendingOp) error {
	if err := s.db.Create(op).Error; err != nil {
		return fmt.Errorf("failed to append pending op: %w", err)
	}
	return nil
}

// ListOps returns all pending ops in insertion order.
func (s *Store) ListOps() ([]PendingOp, error) {
	var ops []PendingOp
	if err := s.db.Order("id asc").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending ops: %w", err)
	}
	return ops, nil
}

// DeleteOp removes a delivered op from the queue.
func (s *Store) DeleteOp(id uint) error {
	if err := s.db.Delete(&PendingOp{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete pending op %d: %w", id, err)
	}
	return nil
}

// MarkOpFailed bumps the attempt counter and records the last error so the op
// stays queued for a later round.
func (s *Store) MarkOpFailed(id uint, msg string) error {
	if len(msg) > 512 {
		msg = msg[:512]
	}
	err := s.db.Model(&PendingOp{}).Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": msg,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark pending op %d: %w", id, err)
	}
	return nil
}

// CountOps returns the number of ops waiting for replay.
func (s *Store) CountOps() (int64, error) {
	var n int64
	if err := s.db.Model(&PendingOp{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count pending ops: %w", err)
	}
	return n, nil
}
