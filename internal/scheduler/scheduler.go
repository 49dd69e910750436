package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ksred/autopilot/internal/executor"
	"github.com/ksred/autopilot/internal/orders"
	"github.com/ksred/autopilot/internal/types"
	"github.com/ksred/autopilot/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// TickSummary reports one evaluation cycle. Skipped covers safety denials and
// lost claim races; Failed covers domain and persistence failures.
type TickSummary struct {
	Attempted int
	Succeeded int
	Skipped   int
	Failed    int
}

// Scheduler finds due standing orders and drives the executor over them. Tick
// is externally invokable with an explicit time, which keeps scheduling
// deterministic under test; Start wraps it in a ticker loop for production.
type Scheduler struct {
	orderDB  *orders.Database
	executor *executor.Service
	workers  int
	interval time.Duration
}

func NewScheduler(orderDB *orders.Database, executorService *executor.Service, workers int, interval time.Duration) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		orderDB:  orderDB,
		executor: executorService,
		workers:  workers,
		interval: interval,
	}
}

// Tick evaluates every due order once. Orders are claimed atomically before
// execution, so an order still running from a previous tick is passed over
// rather than double-fired. Failures are contained per order: a panic or error
// in one execution never aborts the rest of the tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) TickSummary {
	logger := log.With().Str("component", "scheduler").Logger()
	metrics.SchedulerTicks.Inc()

	due, err := s.orderDB.DueOrders(now)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load due orders")
		return TickSummary{}
	}

	metrics.DueOrders.Set(float64(len(due)))
	if len(due) == 0 {
		return TickSummary{}
	}

	logger.Info().Int("due_count", len(due)).Time("tick_at", now).Msg("processing due orders")

	var (
		mu      sync.Mutex
		summary TickSummary
		wg      sync.WaitGroup
	)
	jobs := make(chan types.StandingOrder)

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for order := range jobs {
				outcome := s.runOne(ctx, &order, now, workerID)
				mu.Lock()
				summary.Attempted++
				switch outcome.Status {
				case executor.OutcomeSucceeded:
					summary.Succeeded++
				case executor.OutcomeSkipped:
					summary.Skipped++
				case executor.OutcomeFailed:
					summary.Failed++
				}
				mu.Unlock()
			}
		}(i)
	}

	for _, order := range due {
		jobs <- order
	}
	close(jobs)
	wg.Wait()

	logger.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Msg("tick completed")

	return summary
}

// runOne claims and executes a single order, converting panics into failed
// outcomes so one order cannot take down a worker.
func (s *Scheduler) runOne(ctx context.Context, order *types.StandingOrder, now time.Time, workerID int) (outcome *executor.Outcome) {
	logger := log.With().
		Str("component", "scheduler").
		Int("worker", workerID).
		Str("order_id", order.OrderID).
		Logger()

	claimHeld := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered panic during order execution")
			// Nothing was recorded for this attempt, so the claim must come
			// back or the order is never due again.
			if claimHeld {
				if relErr := s.orderDB.ReleaseExecution(order.OrderID); relErr != nil {
					logger.Error().Err(relErr).Msg("failed to release claim after panic")
				}
			}
			outcome = &executor.Outcome{
				OrderID: order.OrderID,
				Status:  executor.OutcomeFailed,
				Reason:  fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	claimed, err := s.orderDB.ClaimForExecution(order.OrderID, now)
	if err != nil {
		logger.Error().Err(err).Msg("failed to claim order")
		return &executor.Outcome{OrderID: order.OrderID, Status: executor.OutcomeFailed, Reason: "claim-error"}
	}
	if !claimed {
		// Cancelled, paused, or picked up by an overlapping tick since the
		// due scan. Nothing to do.
		logger.Debug().Msg("claim not acquired, skipping")
		return &executor.Outcome{OrderID: order.OrderID, Status: executor.OutcomeSkipped, Reason: "not-claimed"}
	}
	claimHeld = true

	start := time.Now()
	outcome = s.executor.Execute(ctx, order, now)
	metrics.ExecutionDuration.WithLabelValues(string(order.Type)).Observe(time.Since(start).Seconds())
	metrics.OrdersProcessed.WithLabelValues(string(order.Type), string(outcome.Status)).Inc()
	if outcome.Status == executor.OutcomeSkipped && outcome.Reason != "not-claimed" {
		metrics.SafetyDenials.WithLabelValues(outcome.Reason).Inc()
	}
	return outcome
}

// Start begins the periodic scheduling loop. No work happens between ticks.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "scheduler").Logger()
	logger.Info().Dur("interval", s.interval).Int("workers", s.workers).Msg("starting scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down scheduler")
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}
