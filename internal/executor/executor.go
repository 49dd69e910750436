package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/notify"
	"github.com/ksred/autopilot/internal/safety"
	"github.com/ksred/autopilot/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "SUCCEEDED"
	OutcomeSkipped   OutcomeStatus = "SKIPPED"
	OutcomeFailed    OutcomeStatus = "FAILED"
)

// Outcome summarises one execution attempt for the scheduler's tick report.
type Outcome struct {
	OrderID string
	Status  OutcomeStatus
	Reason  string
	Record  *types.ExecutionRecord
}

// Service executes due standing orders: it asks the safety gate for
// authorization, dispatches to the domain operation for the order's type, and
// finalizes the attempt with exactly one ledger record per executed attempt.
// Callers must hold the order's execution claim; the service releases it on
// every path by way of the finalizing update.
type Service struct {
	db              *Database
	gate            *safety.Gate
	handlers        domain.Handlers
	notifier        notify.Notifier
	dispatchTimeout time.Duration
}

func NewService(gormDB *gorm.DB, gate *safety.Gate, handlers domain.Handlers, notifier notify.Notifier, dispatchTimeout time.Duration) *Service {
	return &Service{
		db:              NewDatabase(gormDB),
		gate:            gate,
		handlers:        handlers,
		notifier:        notifier,
		dispatchTimeout: dispatchTimeout,
	}
}

// Execute runs one attempt for a claimed order. now is the scheduler's tick
// time and drives both the safety window and next-run computation.
func (s *Service) Execute(ctx context.Context, order *types.StandingOrder, now time.Time) *Outcome {
	logger := log.With().
		Str("service", "executor").
		Str("order_id", order.OrderID).
		Str("type", string(order.Type)).
		Logger()

	decision, err := s.gate.Authorize(order, now)
	if err != nil {
		// Persistence trouble: release the claim and let the next tick retry.
		logger.Error().Err(err).Msg("safety authorization failed")
		s.release(order.OrderID, logger)
		return &Outcome{OrderID: order.OrderID, Status: OutcomeFailed, Reason: "authorization-error"}
	}

	if !decision.Allowed {
		logger.Info().
			Str("reason", decision.Reason).
			Bool("terminal", decision.Terminal).
			Msg("execution denied by safety gate")
		if !decision.Terminal {
			// Terminal denials already cleared the claim with the completed
			// transition; non-terminal ones only release it.
			s.release(order.OrderID, logger)
		}
		return &Outcome{OrderID: order.OrderID, Status: OutcomeSkipped, Reason: decision.Reason}
	}

	handler, err := s.handlers.ForOrderType(order.Type)
	if err != nil {
		logger.Error().Err(err).Msg("no handler for order type")
		s.release(order.OrderID, logger)
		return &Outcome{OrderID: order.OrderID, Status: OutcomeFailed, Reason: "unknown-type"}
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	result, execErr := handler.Execute(dispatchCtx, buildRequest(order))
	if execErr != nil {
		execErr = &types.DomainExecutionError{Operation: string(order.Type), Err: execErr}
	}

	// A limit order that evaluated without triggering is a successful no-op:
	// it reschedules, produces no ledger record and consumes no execution.
	if execErr == nil && order.Type == types.OrderTypeLimitOrder && !result.Triggered {
		return s.finalizeNoTrigger(order, now, logger)
	}

	if execErr != nil {
		return s.finalizeFailure(order, now, execErr, logger)
	}

	return s.finalizeSuccess(order, now, result, logger)
}

func buildRequest(order *types.StandingOrder) domain.Request {
	params := map[string]string{}
	if order.TargetAllocation != "" {
		params["target_allocation"] = order.TargetAllocation
	}
	if order.Validator != "" {
		params["validator"] = order.Validator
	}
	if order.Type == types.OrderTypeLimitOrder {
		params["trigger_price"] = strconv.FormatFloat(order.TriggerPrice, 'f', -1, 64)
		params["trigger_direction"] = order.TriggerDirection
	}
	if order.RebalanceThreshold > 0 {
		params["rebalance_threshold"] = strconv.FormatFloat(order.RebalanceThreshold, 'f', -1, 64)
	}

	return domain.Request{
		Reference: order.OrderID,
		Owner:     order.OwnerID,
		Amount:    order.Amount,
		Token:     order.Token,
		Params:    params,
	}
}

// finalizeSuccess applies the post-success bookkeeping in one atomic step:
// ledger record, spend total, execution counter and the recomputed next run
// time. A triggered limit order completes instead of rescheduling, and an
// order that has just consumed its final permitted execution completes eagerly.
func (s *Service) finalizeSuccess(order *types.StandingOrder, now time.Time, result *domain.Result, logger zerolog.Logger) *Outcome {
	record := &types.ExecutionRecord{
		RecordID:        "EXE_" + uuid.New().String(),
		OrderID:         order.OrderID,
		ExecutedAt:      now,
		Success:         true,
		TxRef:           result.TxRef,
		AmountProcessed: result.AmountProcessed,
		Cost:            result.Cost,
	}

	newSpent := order.TotalSpent + result.AmountProcessed
	newCount := order.ExecutionCount + 1

	updates := map[string]interface{}{
		"in_flight":       false,
		"total_spent":     newSpent,
		"execution_count": newCount,
	}

	switch {
	case order.Type == types.OrderTypeLimitOrder:
		// One-shot: a triggered limit order never runs again.
		updates["status"] = types.OrderStatusCompleted
	case order.MaxExecutions > 0 && newCount >= order.MaxExecutions:
		updates["status"] = types.OrderStatusCompleted
	case order.TotalSpentLimit > 0 && newSpent >= order.TotalSpentLimit:
		updates["status"] = types.OrderStatusCompleted
	default:
		updates["next_run_at"] = NextRunTime(order, now)
	}

	if err := s.db.FinalizeAttempt(record, order.OrderID, updates); err != nil {
		// The attempt happened but could not be recorded; surface it as a
		// failure so the tick report shows it, and release the claim so a
		// later tick retries the order.
		logger.Error().Err(err).Msg("failed to finalize successful execution")
		s.release(order.OrderID, logger)
		return &Outcome{OrderID: order.OrderID, Status: OutcomeFailed, Reason: "persistence-error"}
	}

	logger.Info().
		Str("tx_ref", result.TxRef).
		Float64("amount_processed", result.AmountProcessed).
		Float64("total_spent", newSpent).
		Int("execution_count", newCount).
		Msg("order executed successfully")

	s.notifyOwner(order, fmt.Sprintf("Order %s executed: %.2f %s processed", order.OrderID, result.AmountProcessed, order.Token))

	return &Outcome{OrderID: order.OrderID, Status: OutcomeSucceeded, Record: record}
}

func (s *Service) finalizeFailure(order *types.StandingOrder, now time.Time, execErr error, logger zerolog.Logger) *Outcome {
	record := &types.ExecutionRecord{
		RecordID:     "EXE_" + uuid.New().String(),
		OrderID:      order.OrderID,
		ExecutedAt:   now,
		Success:      false,
		ErrorMessage: execErr.Error(),
	}

	// The order stays active with its next run time untouched, so the next
	// tick retries the attempt.
	updates := map[string]interface{}{
		"in_flight": false,
	}

	if err := s.db.FinalizeAttempt(record, order.OrderID, updates); err != nil {
		logger.Error().Err(err).Msg("failed to finalize failed execution")
		s.release(order.OrderID, logger)
		return &Outcome{OrderID: order.OrderID, Status: OutcomeFailed, Reason: "persistence-error"}
	}

	logger.Warn().Err(execErr).Msg("order execution failed")
	s.notifyOwner(order, fmt.Sprintf("Order %s failed: %v", order.OrderID, execErr))

	return &Outcome{OrderID: order.OrderID, Status: OutcomeFailed, Reason: "domain-error", Record: record}
}

func (s *Service) finalizeNoTrigger(order *types.StandingOrder, now time.Time, logger zerolog.Logger) *Outcome {
	updates := map[string]interface{}{
		"in_flight":   false,
		"next_run_at": NextRunTime(order, now),
	}

	if err := s.db.FinalizeAttempt(nil, order.OrderID, updates); err != nil {
		logger.Error().Err(err).Msg("failed to reschedule limit order")
		s.release(order.OrderID, logger)
		return &Outcome{OrderID: order.OrderID, Status: OutcomeFailed, Reason: "persistence-error"}
	}

	logger.Debug().Msg("limit condition not met, order rescheduled")
	return &Outcome{OrderID: order.OrderID, Status: OutcomeSucceeded, Reason: "no-trigger"}
}

func (s *Service) release(orderID string, logger zerolog.Logger) {
	updates := map[string]interface{}{"in_flight": false}
	if err := s.db.FinalizeAttempt(nil, orderID, updates); err != nil {
		logger.Error().Err(err).Msg("failed to release execution claim")
	}
}

func (s *Service) notifyOwner(order *types.StandingOrder, message string) {
	if !order.NotifyOwner || s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(context.Background(), order.OwnerID, message); err != nil {
		log.Warn().
			Str("service", "executor").
			Str("order_id", order.OrderID).
			Err(err).
			Msg("notification failed")
	}
}
