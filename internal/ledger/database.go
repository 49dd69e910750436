package ledger

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

func (d *Database) GetRecordsForOrder(orderID string, limit int) ([]types.ExecutionRecord, error) {
	var records []types.ExecutionRecord
	query := d.db.Where("order_id = ?", orderID).Order("executed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// SumSpendSince totals successfully processed amounts for one order within a
// rolling window. Failed attempts never contribute to spend.
func (d *Database) SumSpendSince(orderID string, since time.Time) (float64, error) {
	var total float64
	err := d.db.Model(&types.ExecutionRecord{}).
		Where("order_id = ? AND success = ? AND executed_at >= ?", orderID, true, since).
		Select("COALESCE(SUM(amount_processed), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SuccessTotals returns the lifetime successful spend and count for one order.
func (d *Database) SuccessTotals(orderID string) (float64, int64, error) {
	var total float64
	err := d.db.Model(&types.ExecutionRecord{}).
		Where("order_id = ? AND success = ?", orderID, true).
		Select("COALESCE(SUM(amount_processed), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, 0, err
	}

	var count int64
	err = d.db.Model(&types.ExecutionRecord{}).
		Where("order_id = ? AND success = ?", orderID, true).
		Count(&count).Error
	if err != nil {
		return 0, 0, err
	}

	return total, count, nil
}
