package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/ksred/autopilot/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles standing order management: creation, validation, listing and
// lifecycle transitions. Execution is the scheduler's job, not this package's.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetDB exposes the order store to the scheduler and executor, which share its
// compare-and-set primitives.
func (s *Service) GetDB() *Database {
	return s.db
}

// CreateOrder validates and persists a new standing order with idempotency
// support. A repeated key within its validity window returns the original
// order instead of creating a duplicate.
// Parameters:
//   - order: the order draft to create; identity and status are assigned here
//   - idempotencyKey: unique key preventing duplicate creation
func (s *Service) CreateOrder(order *types.StandingOrder, idempotencyKey string) error {
	record, err := s.db.GetIdempotencyRecord(idempotencyKey)
	if err != nil {
		return &types.PersistenceError{Operation: "idempotency lookup", Err: err}
	}

	if record != nil && record.ExpiresAt.After(time.Now()) {
		existing, err := s.db.GetOrder(record.ResourceID)
		if err != nil {
			return err
		}
		if existing == nil {
			return &types.PersistenceError{Operation: "idempotent replay", Err: gorm.ErrRecordNotFound}
		}
		*order = *existing
		return nil
	}

	if err := ValidateOrder(order); err != nil {
		return err
	}

	order.OrderID = "ORD_" + uuid.New().String()
	order.Status = types.OrderStatusActive
	order.TotalSpent = 0
	order.ExecutionCount = 0
	order.InFlight = false
	if order.NextRunAt.IsZero() {
		order.NextRunAt = time.Now()
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = time.Now()

	if err := s.db.CreateOrderWithIdempotency(order, idempotencyKey); err != nil {
		return &types.PersistenceError{Operation: "order create", Err: err}
	}

	log.Info().
		Str("service", "orders").
		Str("order_id", order.OrderID).
		Str("owner_id", order.OwnerID).
		Str("type", string(order.Type)).
		Str("frequency", string(order.Frequency)).
		Msg("standing order created")

	return nil
}

// ValidateOrder rejects malformed orders before they can ever be scheduled.
// Planner output passes through here too: drafts are untrusted input.
func ValidateOrder(order *types.StandingOrder) error {
	if order.OwnerID == "" {
		return &types.ValidationError{Field: "owner_id", Reason: "required"}
	}

	validType := false
	for _, t := range types.OrderTypes {
		if order.Type == t {
			validType = true
			break
		}
	}
	if !validType {
		return &types.ValidationError{Field: "type", Reason: "unknown order type"}
	}

	switch order.Frequency {
	case types.FrequencyHourly, types.FrequencyDaily, types.FrequencyWeekly, types.FrequencyMonthly:
	case types.FrequencyCustom:
		if order.CustomIntervalMs < 0 {
			return &types.ValidationError{Field: "custom_interval_ms", Reason: "must not be negative"}
		}
	default:
		return &types.ValidationError{Field: "frequency", Reason: "unknown frequency"}
	}

	if order.Amount < 0 {
		return &types.ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	switch order.Type {
	case types.OrderTypeRecurringBuy, types.OrderTypeRecurringStake, types.OrderTypeDCA:
		if order.Amount == 0 {
			return &types.ValidationError{Field: "amount", Reason: "required for spending orders"}
		}
		if order.Token == "" {
			return &types.ValidationError{Field: "token", Reason: "required"}
		}
	case types.OrderTypeLimitOrder:
		if order.Token == "" {
			return &types.ValidationError{Field: "token", Reason: "required"}
		}
		if order.TriggerPrice <= 0 {
			return &types.ValidationError{Field: "trigger_price", Reason: "must be positive"}
		}
		if order.TriggerDirection != "ABOVE" && order.TriggerDirection != "BELOW" {
			return &types.ValidationError{Field: "trigger_direction", Reason: "must be ABOVE or BELOW"}
		}
	case types.OrderTypeAutoVote:
		if order.Validator == "" {
			return &types.ValidationError{Field: "validator", Reason: "required"}
		}
	}

	if order.TotalSpentLimit < 0 {
		return &types.ValidationError{Field: "total_spent_limit", Reason: "must not be negative"}
	}
	if order.MaxExecutions < 0 {
		return &types.ValidationError{Field: "max_executions", Reason: "must not be negative"}
	}

	return nil
}

// GetOrder retrieves an order by its ID.
func (s *Service) GetOrder(orderID string) (*types.StandingOrder, error) {
	return s.db.GetOrder(orderID)
}

// GetOrderForOwner retrieves an order scoped to its owner.
func (s *Service) GetOrderForOwner(orderID, ownerID string) (*types.StandingOrder, error) {
	return s.db.GetOrderByOrderIDAndOwner(orderID, ownerID)
}

// ListOrders returns all orders belonging to an owner.
func (s *Service) ListOrders(ownerID string) ([]types.StandingOrder, error) {
	return s.db.ListOrdersByOwner(ownerID)
}

// PauseOrder suspends scheduling for an active order.
func (s *Service) PauseOrder(orderID string) (bool, error) {
	return s.transition(orderID, types.OrderStatusActive, types.OrderStatusPaused)
}

// ResumeOrder reactivates a paused order.
func (s *Service) ResumeOrder(orderID string) (bool, error) {
	return s.transition(orderID, types.OrderStatusPaused, types.OrderStatusActive)
}

// CancelOrder permanently stops an order. Cancellation is checked before each
// execution attempt: an order cancelled mid-tick is simply never claimed.
func (s *Service) CancelOrder(orderID string) (bool, error) {
	ok, err := s.transition(orderID, types.OrderStatusActive, types.OrderStatusCancelled)
	if err != nil || ok {
		return ok, err
	}
	// A paused order can be cancelled too.
	return s.transition(orderID, types.OrderStatusPaused, types.OrderStatusCancelled)
}

func (s *Service) transition(orderID string, from, to types.OrderStatus) (bool, error) {
	ok, err := s.db.TransitionStatus(orderID, from, to)
	if err != nil {
		return false, &types.PersistenceError{Operation: "status transition", Err: err}
	}
	if ok {
		log.Info().
			Str("service", "orders").
			Str("order_id", orderID).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("order status changed")
	}
	return ok, nil
}
