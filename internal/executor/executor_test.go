package executor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/autopilot/internal/database"
	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/ledger"
	"github.com/ksred/autopilot/internal/orders"
	"github.com/ksred/autopilot/internal/safety"
	"github.com/ksred/autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubHandler struct {
	result *domain.Result
	err    error
	calls  int
}

func (h *stubHandler) Execute(_ context.Context, _ domain.Request) (*domain.Result, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}

func handlersWith(h domain.Handler) domain.Handlers {
	return domain.Handlers{
		Buy:        h,
		Stake:      h,
		DCA:        h,
		Vote:       h,
		Rebalance:  h,
		LimitCheck: h,
		Withdraw:   h,
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func newTestService(t *testing.T, db *gorm.DB, handler domain.Handler, dailyCap float64) *Service {
	t.Helper()
	gate := safety.NewGate(ledger.NewService(db), orders.NewDatabase(db), dailyCap)
	return NewService(db, gate, handlersWith(handler), nil, 5*time.Second)
}

func seedClaimedOrder(t *testing.T, db *gorm.DB, order *types.StandingOrder) {
	t.Helper()
	if order.Status == "" {
		order.Status = types.OrderStatusActive
	}
	order.InFlight = true
	require.NoError(t, db.Create(order).Error)
}

func reloadOrder(t *testing.T, db *gorm.DB, orderID string) *types.StandingOrder {
	t.Helper()
	stored := &types.StandingOrder{}
	require.NoError(t, db.Where("order_id = ?", orderID).First(stored).Error)
	return stored
}

func countRecords(t *testing.T, db *gorm.DB, orderID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&types.ExecutionRecord{}).Where("order_id = ?", orderID).Count(&count).Error)
	return count
}

func TestExecuteSuccessBookkeeping(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{result: &domain.Result{Success: true, TxRef: "TX-1", AmountProcessed: 25, Cost: 0.1, Triggered: true}}
	service := newTestService(t, db, handler, 0)
	now := time.Now()

	order := &types.StandingOrder{
		OrderID:   "ORD_1",
		Type:      types.OrderTypeRecurringBuy,
		Frequency: types.FrequencyHourly,
		Amount:    25,
		Token:     "SOL",
		NextRunAt: now.Add(-time.Minute),
	}
	seedClaimedOrder(t, db, order)

	outcome := service.Execute(context.Background(), order, now)
	assert.Equal(t, OutcomeSucceeded, outcome.Status)
	require.NotNil(t, outcome.Record)
	assert.True(t, outcome.Record.Success)

	stored := reloadOrder(t, db, "ORD_1")
	assert.Equal(t, types.OrderStatusActive, stored.Status)
	assert.False(t, stored.InFlight)
	assert.InDelta(t, 25.0, stored.TotalSpent, 0.001)
	assert.Equal(t, 1, stored.ExecutionCount)
	assert.WithinDuration(t, now.Add(time.Hour), stored.NextRunAt, time.Second)

	assert.Equal(t, int64(1), countRecords(t, db, "ORD_1"))
}

func TestExecuteFailureKeepsSchedule(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{err: errors.New("venue rejected")}
	service := newTestService(t, db, handler, 0)
	now := time.Now()
	due := now.Add(-time.Minute)

	order := &types.StandingOrder{
		OrderID:   "ORD_1",
		Type:      types.OrderTypeRecurringBuy,
		Frequency: types.FrequencyHourly,
		Amount:    25,
		Token:     "SOL",
		NextRunAt: due,
	}
	seedClaimedOrder(t, db, order)

	outcome := service.Execute(context.Background(), order, now)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, "domain-error", outcome.Reason)
	require.NotNil(t, outcome.Record)
	assert.False(t, outcome.Record.Success)
	assert.Contains(t, outcome.Record.ErrorMessage, "venue rejected")

	// The failed attempt is recorded but consumes nothing, and the unchanged
	// next run time means the next tick retries.
	stored := reloadOrder(t, db, "ORD_1")
	assert.Equal(t, types.OrderStatusActive, stored.Status)
	assert.False(t, stored.InFlight)
	assert.Zero(t, stored.TotalSpent)
	assert.Zero(t, stored.ExecutionCount)
	assert.WithinDuration(t, due, stored.NextRunAt, time.Second)

	assert.Equal(t, int64(1), countRecords(t, db, "ORD_1"))
}

func TestExecuteLimitOrderNoTrigger(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{result: &domain.Result{Success: true, Triggered: false}}
	service := newTestService(t, db, handler, 0)
	now := time.Now()

	order := &types.StandingOrder{
		OrderID:          "ORD_1",
		Type:             types.OrderTypeLimitOrder,
		Frequency:        types.FrequencyHourly,
		Token:            "SOL",
		TriggerPrice:     200,
		TriggerDirection: "ABOVE",
		NextRunAt:        now.Add(-time.Minute),
	}
	seedClaimedOrder(t, db, order)

	outcome := service.Execute(context.Background(), order, now)
	assert.Equal(t, OutcomeSucceeded, outcome.Status)
	assert.Equal(t, "no-trigger", outcome.Reason)
	assert.Nil(t, outcome.Record)

	// An unmet trigger check is a no-op: rescheduled, nothing recorded,
	// nothing counted.
	stored := reloadOrder(t, db, "ORD_1")
	assert.Equal(t, types.OrderStatusActive, stored.Status)
	assert.False(t, stored.InFlight)
	assert.Zero(t, stored.ExecutionCount)
	assert.WithinDuration(t, now.Add(time.Hour), stored.NextRunAt, time.Second)

	assert.Equal(t, int64(0), countRecords(t, db, "ORD_1"))
}

func TestExecuteLimitOrderTriggerCompletesOrder(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{result: &domain.Result{Success: true, TxRef: "TX-9", AmountProcessed: 30, Triggered: true}}
	service := newTestService(t, db, handler, 0)
	now := time.Now()

	order := &types.StandingOrder{
		OrderID:          "ORD_1",
		Type:             types.OrderTypeLimitOrder,
		Frequency:        types.FrequencyHourly,
		Amount:           30,
		Token:            "SOL",
		TriggerPrice:     120,
		TriggerDirection: "ABOVE",
		NextRunAt:        now.Add(-time.Minute),
	}
	seedClaimedOrder(t, db, order)

	outcome := service.Execute(context.Background(), order, now)
	assert.Equal(t, OutcomeSucceeded, outcome.Status)

	stored := reloadOrder(t, db, "ORD_1")
	assert.Equal(t, types.OrderStatusCompleted, stored.Status, "a triggered limit order is one-shot")
	assert.Equal(t, 1, stored.ExecutionCount)
	assert.Equal(t, int64(1), countRecords(t, db, "ORD_1"))
}

func TestExecuteFinalPermittedExecutionCompletes(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{result: &domain.Result{Success: true, AmountProcessed: 10, Triggered: true}}
	service := newTestService(t, db, handler, 0)
	now := time.Now()

	order := &types.StandingOrder{
		OrderID:        "ORD_1",
		Type:           types.OrderTypeRecurringBuy,
		Frequency:      types.FrequencyDaily,
		Amount:         10,
		Token:          "SOL",
		MaxExecutions:  2,
		ExecutionCount: 1,
		NextRunAt:      now.Add(-time.Minute),
	}
	seedClaimedOrder(t, db, order)

	outcome := service.Execute(context.Background(), order, now)
	assert.Equal(t, OutcomeSucceeded, outcome.Status)

	stored := reloadOrder(t, db, "ORD_1")
	assert.Equal(t, types.OrderStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.ExecutionCount)
}

func TestExecuteTerminalSafetyDenial(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{result: &domain.Result{Success: true, Triggered: true}}
	service := newTestService(t, db, handler, 0)
	now := time.Now()

	order := &types.StandingOrder{
		OrderID:         "ORD_1",
		Type:            types.OrderTypeRecurringBuy,
		Frequency:       types.FrequencyDaily,
		Amount:          20,
		Token:           "SOL",
		TotalSpent:      90,
		TotalSpentLimit: 100,
		NextRunAt:       now.Add(-time.Minute),
	}
	seedClaimedOrder(t, db, order)

	outcome := service.Execute(context.Background(), order, now)
	assert.Equal(t, OutcomeSkipped, outcome.Status)
	assert.Equal(t, types.DenyLifetimeLimit, outcome.Reason)
	assert.Zero(t, handler.calls, "denied attempts never reach the domain")

	stored := reloadOrder(t, db, "ORD_1")
	assert.Equal(t, types.OrderStatusCompleted, stored.Status)
	assert.False(t, stored.InFlight)
	assert.Equal(t, int64(0), countRecords(t, db, "ORD_1"))
}

func TestExecuteDailyCapDenialReleasesClaim(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{result: &domain.Result{Success: true, Triggered: true}}
	service := newTestService(t, db, handler, 50)
	now := time.Now()

	require.NoError(t, db.Create(&types.ExecutionRecord{
		RecordID:        "EXE_prev",
		OrderID:         "ORD_1",
		ExecutedAt:      now.Add(-time.Hour),
		Success:         true,
		AmountProcessed: 50,
	}).Error)

	order := &types.StandingOrder{
		OrderID:   "ORD_1",
		Type:      types.OrderTypeRecurringBuy,
		Frequency: types.FrequencyHourly,
		Amount:    20,
		Token:     "SOL",
		NextRunAt: now.Add(-time.Minute),
	}
	seedClaimedOrder(t, db, order)

	outcome := service.Execute(context.Background(), order, now)
	assert.Equal(t, OutcomeSkipped, outcome.Status)
	assert.Equal(t, types.DenyDailyLimit, outcome.Reason)
	assert.Zero(t, handler.calls)

	stored := reloadOrder(t, db, "ORD_1")
	assert.Equal(t, types.OrderStatusActive, stored.Status)
	assert.False(t, stored.InFlight, "a skipped attempt releases the claim for later ticks")
}
