package types

import (
	"time"

	"gorm.io/gorm"
)

// OrderType identifies the domain operation a standing order dispatches to.
type OrderType string

const (
	OrderTypeRecurringBuy   OrderType = "RECURRING_BUY"
	OrderTypeRecurringStake OrderType = "RECURRING_STAKE"
	OrderTypeDCA            OrderType = "DCA"
	OrderTypeAutoVote       OrderType = "AUTO_VOTE"
	OrderTypeRebalance      OrderType = "REBALANCE"
	OrderTypeLimitOrder     OrderType = "LIMIT_ORDER"
)

// OrderTypes is the closed set of supported order types.
var OrderTypes = []OrderType{
	OrderTypeRecurringBuy,
	OrderTypeRecurringStake,
	OrderTypeDCA,
	OrderTypeAutoVote,
	OrderTypeRebalance,
	OrderTypeLimitOrder,
}

type OrderStatus string

const (
	OrderStatusActive    OrderStatus = "ACTIVE"
	OrderStatusPaused    OrderStatus = "PAUSED"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusFailed    OrderStatus = "FAILED"
)

// Frequency controls how the next run time is advanced after a successful execution.
type Frequency string

const (
	FrequencyHourly  Frequency = "HOURLY"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyCustom  Frequency = "CUSTOM"
)

// StandingOrder is a user-defined recurring task with a schedule and safety limits.
// Spend totals and the execution counter are only ever updated through the
// executor's atomic finalize step; InFlight serialises execution per order.
type StandingOrder struct {
	gorm.Model       `json:"-"`
	OrderID          string      `gorm:"uniqueIndex" json:"order_id"`
	OwnerID          string      `gorm:"index" json:"owner_id"`
	Type             OrderType   `json:"type"`
	Status           OrderStatus `gorm:"index" json:"status"`
	Frequency        Frequency   `json:"frequency"`
	CustomIntervalMs int64       `json:"custom_interval_ms,omitempty"`
	NextRunAt        time.Time   `gorm:"index" json:"next_run_at"`

	// Type-specific parameters. TargetAllocation is a JSON object of
	// token -> weight used by DCA and rebalance orders.
	Amount             float64 `json:"amount"`
	Token              string  `json:"token"`
	TargetAllocation   string  `json:"target_allocation,omitempty"`
	TriggerPrice       float64 `json:"trigger_price,omitempty"`
	TriggerDirection   string  `json:"trigger_direction,omitempty"` // ABOVE or BELOW
	Validator          string  `json:"validator,omitempty"`
	RebalanceThreshold float64 `json:"rebalance_threshold,omitempty"`

	// Safety limits; zero means unlimited.
	TotalSpentLimit float64 `json:"total_spent_limit,omitempty"`
	MaxExecutions   int     `json:"max_executions,omitempty"`

	TotalSpent     float64 `json:"total_spent"`
	ExecutionCount int     `json:"execution_count"`

	InFlight    bool      `gorm:"index" json:"-"`
	NotifyOwner bool      `json:"notify_owner"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ExecutionRecord is one row of the append-only execution ledger. Records are
// immutable once written and are the single source of truth for spend
// aggregation.
type ExecutionRecord struct {
	gorm.Model      `json:"-"`
	RecordID        string    `gorm:"uniqueIndex" json:"record_id"`
	OrderID         string    `gorm:"index" json:"order_id"`
	ExecutedAt      time.Time `gorm:"index" json:"executed_at"`
	Success         bool      `json:"success"`
	TxRef           string    `json:"tx_ref,omitempty"`
	AmountProcessed float64   `json:"amount_processed"`
	Cost            float64   `json:"cost"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}
