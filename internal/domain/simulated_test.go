package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ksred/autopilot/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	calls int
}

func (h *countingHandler) Execute(_ context.Context, req Request) (*Result, error) {
	h.calls++
	return &Result{Success: true, TxRef: "TX-1", AmountProcessed: req.Amount}, nil
}

func TestLimitCheckerDirections(t *testing.T) {
	metrics := &StaticMetrics{Values: map[string]float64{"price:SOL": 150}}

	tests := []struct {
		name      string
		trigger   string
		direction string
		triggered bool
	}{
		{"above met", "120", "ABOVE", true},
		{"above not met", "200", "ABOVE", false},
		{"below met", "160", "BELOW", true},
		{"below not met", "120", "BELOW", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			execute := &countingHandler{}
			checker := NewLimitChecker(metrics, execute)

			result, err := checker.Execute(context.Background(), Request{
				Reference: "ORD_1",
				Token:     "SOL",
				Amount:    25,
				Params: map[string]string{
					"trigger_price":     tt.trigger,
					"trigger_direction": tt.direction,
				},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.triggered, result.Triggered)

			if tt.triggered {
				assert.Equal(t, 1, execute.calls)
				assert.InDelta(t, 25.0, result.AmountProcessed, 0.001)
			} else {
				assert.Zero(t, execute.calls, "unmet triggers never execute")
				assert.Zero(t, result.AmountProcessed)
			}
		})
	}
}

func TestLimitCheckerUnknownMetric(t *testing.T) {
	checker := NewLimitChecker(&StaticMetrics{}, &countingHandler{})

	_, err := checker.Execute(context.Background(), Request{
		Token:  "GHOST",
		Params: map[string]string{"trigger_price": "100", "trigger_direction": "ABOVE"},
	})
	assert.Error(t, err)
}

func TestLimitCheckerBadTriggerPrice(t *testing.T) {
	metrics := &StaticMetrics{Values: map[string]float64{"price:SOL": 150}}
	checker := NewLimitChecker(metrics, &countingHandler{})

	_, err := checker.Execute(context.Background(), Request{
		Token:  "SOL",
		Params: map[string]string{"trigger_price": "many", "trigger_direction": "ABOVE"},
	})
	assert.Error(t, err)
}

func TestVenueHonoursContextCancellation(t *testing.T) {
	venue := &Venue{Name: "DEX1", Operation: "buy", MinLatency: 200, MaxLatency: 200, SuccessRate: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := venue.Execute(ctx, Request{Amount: 10})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestHandlersValidate(t *testing.T) {
	metrics := &StaticMetrics{Values: map[string]float64{}}
	assert.NoError(t, SimulatedHandlers(metrics).Validate())

	incomplete := SimulatedHandlers(metrics)
	incomplete.Withdraw = nil
	assert.Error(t, incomplete.Validate())
}

func TestHandlersDispatchTables(t *testing.T) {
	handlers := SimulatedHandlers(&StaticMetrics{})

	for _, orderType := range types.OrderTypes {
		handler, err := handlers.ForOrderType(orderType)
		require.NoError(t, err)
		assert.NotNil(t, handler)
	}
	_, err := handlers.ForOrderType("MYSTERY")
	assert.Error(t, err)

	// The monitor action has no domain handler; the step executor owns it.
	_, err = handlers.ForStepAction(types.ActionMonitor)
	assert.Error(t, err)

	handler, err := handlers.ForStepAction(types.ActionWithdraw)
	require.NoError(t, err)
	assert.NotNil(t, handler)
}
