package main

import (
	"context"
	"encoding/json"
	"fmt"

	"savingsd/models"
	"savingsd/pkg/localstore"
	"savingsd/pkg/queue"
)

// gormRemote applies buffered offline ops against the Postgres store. It is
// the queue.Remote used by the syncer and the manual flush endpoint.
type gormRemote struct{}

func (gormRemote) Apply(ctx context.Context, op localstore.PendingOp) error {
	switch op.TargetTable {
	case queue.TableTransactions:
		return applyTransactionOp(ctx, op)
	case queue.TableSavingsRecords:
		return applySavingsOp(ctx, op)
	case queue.TableUserSettings:
		return applySettingsOp(ctx, op)
	default:
		return fmt.Errorf("unknown target table %q", op.TargetTable)
	}
}

func applyTransactionOp(ctx context.Context, op localstore.PendingOp) error {
	switch op.Op {
	case queue.OpCreate:
		var tx models.Transaction
		if err := json.Unmarshal(op.Payload, &tx); err != nil {
			return fmt.Errorf("bad transaction payload: %w", err)
		}
		tx.ID = 0
		return db.WithContext(ctx).Create(&tx).Error
	case queue.OpUpdate:
		var tx models.Transaction
		if err := json.Unmarshal(op.Payload, &tx); err != nil {
			return fmt.Errorf("bad transaction payload: %w", err)
		}
		if tx.ID == 0 {
			return fmt.Errorf("update payload missing id")
		}
		return db.WithContext(ctx).Model(&models.Transaction{}).Where("id = ? AND user_id = ?", tx.ID, tx.UserID).
			Updates(map[string]any{
				"amount":      tx.Amount,
				"type":        tx.Type,
				"date":        tx.Date,
				"description": tx.Description,
			}).Error
	case queue.OpDelete:
		var body struct {
			ID     uint `json:"id"`
			UserID uint `json:"user_id"`
		}
		if err := json.Unmarshal(op.Payload, &body); err != nil {
			return fmt.Errorf("bad delete payload: %w", err)
		}
		// soft delete, same as the online path
		return db.WithContext(ctx).Model(&models.Transaction{}).
			Where("id = ? AND user_id = ?", body.ID, body.UserID).
			Update("deleted", true).Error
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

// applySavingsOp upserts the (user, date) row regardless of op kind; the
// legacy table has no other write shape.
func applySavingsOp(ctx context.Context, op localstore.PendingOp) error {
	var rec models.SavingsRecord
	if err := json.Unmarshal(op.Payload, &rec); err != nil {
		return fmt.Errorf("bad savings payload: %w", err)
	}
	var existing models.SavingsRecord
	err := db.WithContext(ctx).Where("user_id = ? AND date = ?", rec.UserID, rec.Date).First(&existing).Error
	if err == nil {
		return db.WithContext(ctx).Model(&existing).
			Updates(map[string]any{"amount": rec.Amount, "saved": rec.Saved}).Error
	}
	rec.ID = 0
	return db.WithContext(ctx).Create(&rec).Error
}

func applySettingsOp(ctx context.Context, op localstore.PendingOp) error {
	var settings models.UserSettings
	if err := json.Unmarshal(op.Payload, &settings); err != nil {
		return fmt.Errorf("bad settings payload: %w", err)
	}
	var existing models.UserSettings
	err := db.WithContext(ctx).Where("user_id = ?", settings.UserID).First(&existing).Error
	if err == nil {
		settings.ID = existing.ID
		settings.CreatedAt = existing.CreatedAt
		return db.WithContext(ctx).Save(&settings).Error
	}
	settings.ID = 0
	return db.WithContext(ctx).Create(&settings).Error
}
