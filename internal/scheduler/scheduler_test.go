package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ksred/autopilot/internal/database"
	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/executor"
	"github.com/ksred/autopilot/internal/ledger"
	"github.com/ksred/autopilot/internal/orders"
	"github.com/ksred/autopilot/internal/safety"
	"github.com/ksred/autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type stubHandler struct {
	err    error
	panics bool
	calls  int32
}

func (h *stubHandler) Execute(_ context.Context, req domain.Request) (*domain.Result, error) {
	atomic.AddInt32(&h.calls, 1)
	if h.panics {
		panic("handler exploded")
	}
	if h.err != nil {
		return nil, h.err
	}
	return &domain.Result{Success: true, TxRef: "TX-" + req.Reference, AmountProcessed: req.Amount, Triggered: true}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func newTestScheduler(t *testing.T, db *gorm.DB, handlers domain.Handlers) *Scheduler {
	t.Helper()
	orderDB := orders.NewDatabase(db)
	gate := safety.NewGate(ledger.NewService(db), orderDB, 0)
	executorService := executor.NewService(db, gate, handlers, nil, 5*time.Second)
	return NewScheduler(orderDB, executorService, 3, time.Minute)
}

func seedOrder(t *testing.T, db *gorm.DB, orderID string, orderType types.OrderType, nextRunAt time.Time) {
	t.Helper()
	order := &types.StandingOrder{
		OrderID:   orderID,
		OwnerID:   "client-1",
		Type:      orderType,
		Status:    types.OrderStatusActive,
		Frequency: types.FrequencyHourly,
		Amount:    10,
		Token:     "SOL",
		Validator: "validator-1",
		NextRunAt: nextRunAt,
	}
	require.NoError(t, db.Create(order).Error)
}

func TestTickProcessesOnlyDueOrders(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{}
	s := newTestScheduler(t, db, domain.Handlers{
		Buy: handler, Stake: handler, DCA: handler, Vote: handler,
		Rebalance: handler, LimitCheck: handler, Withdraw: handler,
	})
	now := time.Now()

	seedOrder(t, db, "ORD_due_1", types.OrderTypeRecurringBuy, now.Add(-time.Minute))
	seedOrder(t, db, "ORD_due_2", types.OrderTypeRecurringStake, now.Add(-time.Hour))
	seedOrder(t, db, "ORD_due_3", types.OrderTypeDCA, now.Add(-time.Second))
	seedOrder(t, db, "ORD_future", types.OrderTypeRecurringBuy, now.Add(time.Hour))

	summary := s.Tick(context.Background(), now)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&handler.calls))

	// Every executed order was rescheduled past now, so a repeat tick at the
	// same instant finds nothing.
	summary = s.Tick(context.Background(), now)
	assert.Zero(t, summary.Attempted)
}

func TestTickIsolatesFailures(t *testing.T) {
	db := newTestDB(t)
	good := &stubHandler{}
	bad := &stubHandler{err: errors.New("venue down")}
	s := newTestScheduler(t, db, domain.Handlers{
		Buy: good, Stake: bad, DCA: good, Vote: good,
		Rebalance: good, LimitCheck: good, Withdraw: good,
	})
	now := time.Now()

	seedOrder(t, db, "ORD_1", types.OrderTypeRecurringBuy, now.Add(-time.Minute))
	seedOrder(t, db, "ORD_2", types.OrderTypeRecurringStake, now.Add(-time.Minute))
	seedOrder(t, db, "ORD_3", types.OrderTypeDCA, now.Add(-time.Minute))

	summary := s.Tick(context.Background(), now)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	// The failing order stays active and due for the next tick.
	stored := &types.StandingOrder{}
	require.NoError(t, db.Where("order_id = ?", "ORD_2").First(stored).Error)
	assert.Equal(t, types.OrderStatusActive, stored.Status)
	assert.False(t, stored.InFlight)
}

func TestTickContainsPanics(t *testing.T) {
	db := newTestDB(t)
	good := &stubHandler{}
	panicky := &stubHandler{panics: true}
	s := newTestScheduler(t, db, domain.Handlers{
		Buy: good, Stake: good, DCA: good, Vote: panicky,
		Rebalance: good, LimitCheck: good, Withdraw: good,
	})
	now := time.Now()

	seedOrder(t, db, "ORD_1", types.OrderTypeRecurringBuy, now.Add(-time.Minute))
	seedOrder(t, db, "ORD_2", types.OrderTypeAutoVote, now.Add(-time.Minute))

	summary := s.Tick(context.Background(), now)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	// The panicked attempt recorded nothing, so its claim must be released
	// and the order still active for a later tick.
	stored := &types.StandingOrder{}
	require.NoError(t, db.Where("order_id = ?", "ORD_2").First(stored).Error)
	assert.Equal(t, types.OrderStatusActive, stored.Status)
	assert.False(t, stored.InFlight, "claim held after a panicked attempt")

	summary = s.Tick(context.Background(), now.Add(30*time.Minute))
	assert.Equal(t, 1, summary.Attempted, "panicked order retried on a later tick")
	assert.Equal(t, 1, summary.Failed)
}

func TestTickSkipsClaimedOrders(t *testing.T) {
	db := newTestDB(t)
	handler := &stubHandler{}
	s := newTestScheduler(t, db, domain.Handlers{
		Buy: handler, Stake: handler, DCA: handler, Vote: handler,
		Rebalance: handler, LimitCheck: handler, Withdraw: handler,
	})
	now := time.Now()

	seedOrder(t, db, "ORD_1", types.OrderTypeRecurringBuy, now.Add(-time.Minute))

	// Simulate an overlapping tick holding the claim.
	orderDB := orders.NewDatabase(db)
	claimed, err := orderDB.ClaimForExecution("ORD_1", now)
	require.NoError(t, err)
	require.True(t, claimed)

	summary := s.Tick(context.Background(), now)
	assert.Zero(t, summary.Attempted, "claimed orders are not due")
	assert.Zero(t, atomic.LoadInt32(&handler.calls))
}

func TestTickEmptyDatabase(t *testing.T) {
	db := newTestDB(t)
	s := newTestScheduler(t, db, domain.Handlers{})

	summary := s.Tick(context.Background(), time.Now())
	assert.Equal(t, TickSummary{}, summary)
}
