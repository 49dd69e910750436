package domain

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Venue simulates an execution venue for one operation kind. Latency, success
// rate and fees mirror the rough shape of real venues so the simulation binary
// and the scheduler exercise the same failure paths production would.
type Venue struct {
	Name        string
	Operation   string
	MinLatency  int // in milliseconds
	MaxLatency  int
	SuccessRate float64 // 0-1, probability of successful execution
	FeeRate     float64 // fraction of transaction value
}

// Execute simulates one call against the venue.
func (v *Venue) Execute(ctx context.Context, req Request) (*Result, error) {
	logger := log.With().
		Str("venue", v.Name).
		Str("operation", v.Operation).
		Str("reference", req.Reference).
		Float64("amount", req.Amount).
		Logger()

	latency := v.MinLatency
	if v.MaxLatency > v.MinLatency {
		latency += rand.Intn(v.MaxLatency - v.MinLatency)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(time.Duration(latency) * time.Millisecond):
	}

	if rand.Float64() > v.SuccessRate {
		logger.Warn().Float64("success_rate", v.SuccessRate).Msg("simulated execution failed")
		return nil, fmt.Errorf("%s rejected by venue %s", v.Operation, v.Name)
	}

	cost := req.Amount * v.FeeRate
	result := &Result{
		Success:         true,
		TxRef:           fmt.Sprintf("TX-%s-%d", v.Name, rand.Int63()),
		AmountProcessed: req.Amount,
		Cost:            cost,
		Triggered:       true,
	}

	logger.Debug().
		Str("tx_ref", result.TxRef).
		Float64("cost", cost).
		Int("latency_ms", latency).
		Msg("simulated execution completed")

	return result, nil
}

// limitChecker evaluates a limit trigger against a metric source. A check that
// finds the condition unmet succeeds with Triggered false and processes no
// amount; only a met condition executes the underlying buy.
type limitChecker struct {
	metrics MetricSource
	execute Handler
}

func (c *limitChecker) Execute(ctx context.Context, req Request) (*Result, error) {
	price, err := c.metrics.CurrentValue(ctx, "price:"+req.Token)
	if err != nil {
		return nil, fmt.Errorf("price lookup for %s failed: %w", req.Token, err)
	}

	trigger, err := strconv.ParseFloat(req.Params["trigger_price"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger price %q", req.Params["trigger_price"])
	}

	met := price >= trigger
	if req.Params["trigger_direction"] == "BELOW" {
		met = price <= trigger
	}

	if !met {
		log.Debug().
			Str("reference", req.Reference).
			Str("token", req.Token).
			Float64("price", price).
			Float64("trigger", trigger).
			Msg("limit condition not met")
		return &Result{Success: true, Triggered: false}, nil
	}

	result, err := c.execute.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Triggered = true
	return result, nil
}

// NewLimitChecker wires a trigger evaluator in front of an execution handler.
func NewLimitChecker(metrics MetricSource, execute Handler) Handler {
	return &limitChecker{metrics: metrics, execute: execute}
}

// SimulatedHandlers builds a full dispatch table backed by simulated venues.
func SimulatedHandlers(metrics MetricSource) Handlers {
	buy := &Venue{Name: "DEX1", Operation: "buy", MinLatency: 5, MaxLatency: 30, SuccessRate: 0.95, FeeRate: 0.001}
	return Handlers{
		Buy:        buy,
		Stake:      &Venue{Name: "STAKE1", Operation: "stake", MinLatency: 10, MaxLatency: 50, SuccessRate: 0.93, FeeRate: 0.0005},
		DCA:        &Venue{Name: "DEX2", Operation: "dca", MinLatency: 10, MaxLatency: 60, SuccessRate: 0.92, FeeRate: 0.0012},
		Vote:       &Venue{Name: "GOV1", Operation: "vote", MinLatency: 5, MaxLatency: 20, SuccessRate: 0.98, FeeRate: 0},
		Rebalance:  &Venue{Name: "DEX1", Operation: "rebalance", MinLatency: 20, MaxLatency: 80, SuccessRate: 0.9, FeeRate: 0.002},
		LimitCheck: NewLimitChecker(metrics, buy),
		Withdraw:   &Venue{Name: "DEX1", Operation: "withdraw", MinLatency: 10, MaxLatency: 40, SuccessRate: 0.97, FeeRate: 0.0008},
	}
}

// StaticMetrics is a fixed-value metric source for tests and simulation runs.
type StaticMetrics struct {
	Values map[string]float64
}

func (m *StaticMetrics) CurrentValue(_ context.Context, name string) (float64, error) {
	value, ok := m.Values[name]
	if !ok {
		return 0, fmt.Errorf("unknown metric %q", name)
	}
	return value, nil
}
