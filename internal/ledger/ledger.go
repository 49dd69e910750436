package ledger

import (
	"time"

	"github.com/ksred/autopilot/internal/types"
	"gorm.io/gorm"
)

// Service reads the append-only execution ledger. Records are written exactly
// once per attempt by the order executor, atomically with the order update;
// this service owns all spend aggregation over them.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// RollingSpend totals the successful spend for one order over the window
// ending at now.
func (s *Service) RollingSpend(orderID string, now time.Time, window time.Duration) (float64, error) {
	return s.db.SumSpendSince(orderID, now.Add(-window))
}

// Totals returns lifetime successful spend and execution count for one order.
func (s *Service) Totals(orderID string) (float64, int64, error) {
	return s.db.SuccessTotals(orderID)
}

// History returns the most recent records for an order, newest first.
func (s *Service) History(orderID string, limit int) ([]types.ExecutionRecord, error) {
	return s.db.GetRecordsForOrder(orderID, limit)
}
