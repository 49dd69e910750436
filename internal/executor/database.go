package executor

import (
	"time"

	"github.com/ksred/autopilot/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// FinalizeAttempt durably records the outcome of one execution attempt: the
// ledger record (when one exists) and the order update land in a single
// transaction, so spend bookkeeping can never diverge from the ledger. The
// update must always clear the in-flight flag; the claim is only released once
// the outcome is durable.
func (d *Database) FinalizeAttempt(record *types.ExecutionRecord, orderID string, updates map[string]interface{}) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if record != nil {
		if err := tx.Create(record).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	updates["updated_at"] = time.Now()
	if err := tx.Model(&types.StandingOrder{}).
		Where("order_id = ?", orderID).
		Updates(updates).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
