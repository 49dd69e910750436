package orders

import (
	"errors"
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

func (d *Database) GetOrder(orderID string) (*types.StandingOrder, error) {
	var order types.StandingOrder
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByOrderIDAndOwner(orderID, ownerID string) (*types.StandingOrder, error) {
	var order types.StandingOrder
	if err := d.db.Where("order_id = ? AND owner_id = ?", orderID, ownerID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) ListOrdersByOwner(ownerID string) ([]types.StandingOrder, error) {
	var orders []types.StandingOrder
	if err := d.db.Where("owner_id = ?", ownerID).Order("created_at").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// DueOrders returns active, unclaimed orders whose next run time has passed.
func (d *Database) DueOrders(now time.Time) ([]types.StandingOrder, error) {
	var orders []types.StandingOrder
	err := d.db.
		Where("status = ? AND in_flight = ? AND next_run_at <= ?", types.OrderStatusActive, false, now).
		Order("next_run_at").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ClaimForExecution atomically sets the in-flight flag for a due order. The
// conditional update doubles as the due-check, so an order can never be
// claimed twice concurrently even when ticks overlap. Returns false when the
// order was already claimed, no longer active, or no longer due.
func (d *Database) ClaimForExecution(orderID string, now time.Time) (bool, error) {
	result := d.db.Model(&types.StandingOrder{}).
		Where("order_id = ? AND status = ? AND in_flight = ? AND next_run_at <= ?",
			orderID, types.OrderStatusActive, false, now).
		Updates(map[string]interface{}{
			"in_flight":  true,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ReleaseExecution clears the in-flight flag without touching anything else.
// Used when an attempt ends without a state change (safety skip, claim races).
func (d *Database) ReleaseExecution(orderID string) error {
	return d.db.Model(&types.StandingOrder{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"in_flight":  false,
			"updated_at": time.Now(),
		}).Error
}

// TransitionStatus moves an order from one status to another as a single
// compare-and-set. Returns false when the order was not in the expected
// status, which callers treat as a lost race rather than an error.
func (d *Database) TransitionStatus(orderID string, from, to types.OrderStatus) (bool, error) {
	result := d.db.Model(&types.StandingOrder{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Updates(map[string]interface{}{
			"status":     to,
			"in_flight":  false,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CreateOrderWithIdempotency creates a new order and idempotency record in a
// transaction.
func (d *Database) CreateOrderWithIdempotency(order *types.StandingOrder, idempotencyKey string) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(order).Error; err != nil {
		tx.Rollback()
		return err
	}

	record := types.IdempotencyRecord{
		IdempotencyKey: idempotencyKey,
		ResourceID:     order.OrderID,
		ResourceType:   "standing_order",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
	}

	if err := tx.Create(&record).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}

// GetIdempotencyRecord retrieves an idempotency record by key.
func (d *Database) GetIdempotencyRecord(key string) (*types.IdempotencyRecord, error) {
	var record types.IdempotencyRecord
	if err := d.db.Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
