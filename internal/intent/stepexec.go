package intent

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/monitor"
	"github.com/ksred/autopilot/internal/types"
	"github.com/ksred/autopilot/pkg/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StepExecutor turns an intent's dependency graph into an ordered execution
// run. Independent branches run in parallel; a step only starts once every
// dependency has completed, and a failed branch is contained: dependents are
// skipped, unrelated branches continue.
type StepExecutor struct {
	db              *Database
	handlers        domain.Handlers
	registry        *monitor.Registry
	confirmations   *Confirmations
	dispatchTimeout time.Duration
	confirmTimeout  time.Duration
}

func NewStepExecutor(db *Database, handlers domain.Handlers, registry *monitor.Registry, confirmations *Confirmations, dispatchTimeout, confirmTimeout time.Duration) *StepExecutor {
	return &StepExecutor{
		db:              db,
		handlers:        handlers,
		registry:        registry,
		confirmations:   confirmations,
		dispatchTimeout: dispatchTimeout,
		confirmTimeout:  confirmTimeout,
	}
}

// Run executes an intent to a terminal status. The returned intent carries the
// final step states.
func (e *StepExecutor) Run(ctx context.Context, intent *types.Intent) (*types.Intent, error) {
	logger := log.With().
		Str("component", "step_executor").
		Str("intent_id", intent.IntentID).
		Logger()

	if intent.RequiresConfirmation {
		approved, err := e.confirmations.Await(ctx, intent.IntentID, e.confirmTimeout)
		if err != nil || !approved {
			logger.Warn().Err(err).Bool("approved", approved).Msg("confirmation denied or timed out")
			// No step started; the intent fails outright.
			intent.Status = types.IntentStatusFailed
			if dbErr := e.db.SetIntentStatus(intent.IntentID, types.IntentStatusFailed); dbErr != nil {
				return intent, &types.PersistenceError{Operation: "intent status update", Err: dbErr}
			}
			metrics.IntentsCompleted.WithLabelValues(string(types.IntentStatusFailed)).Inc()
			return intent, nil
		}
		logger.Info().Msg("intent confirmed")
	}

	intent.Status = types.IntentStatusExecuting
	if err := e.db.SetIntentStatus(intent.IntentID, types.IntentStatusExecuting); err != nil {
		return intent, &types.PersistenceError{Operation: "intent status update", Err: err}
	}

	cancelled := e.runGraph(ctx, intent, logger)

	final := finalStatus(intent.Steps)
	if final == types.IntentStatusCompleted {
		active, err := e.registry.GetDB().ActiveRuleCountForIntent(intent.IntentID)
		if err == nil && active > 0 {
			final = types.IntentStatusMonitoring
		}
	}

	if cancelled {
		// Cancellation already owns the status; report what we saw.
		intent.Status = types.IntentStatusCancelled
		return intent, nil
	}

	intent.Status = final
	if err := e.db.SetIntentStatus(intent.IntentID, final); err != nil {
		return intent, &types.PersistenceError{Operation: "intent status update", Err: err}
	}

	metrics.IntentsCompleted.WithLabelValues(string(final)).Inc()
	logger.Info().Str("status", string(final)).Msg("intent run finished")

	return intent, nil
}

// runGraph repeatedly scans for runnable steps until no scan makes progress.
// Returns true when the run stopped because the intent was cancelled.
func (e *StepExecutor) runGraph(ctx context.Context, intent *types.Intent, logger zerolog.Logger) bool {
	for {
		status, err := e.db.IntentStatusValue(intent.IntentID)
		if err == nil && status == types.IntentStatusCancelled {
			logger.Info().Msg("intent cancelled, stopping step scans")
			return true
		}

		progressed := e.markSkipped(intent, logger)

		eligible := eligibleSteps(intent.Steps)
		if len(eligible) == 0 {
			if progressed {
				continue
			}
			e.failUnresolvable(intent, logger)
			return false
		}

		// Independent branches of the same wave run concurrently; dependents
		// only become eligible on a later scan, after their predecessors'
		// completed status is durably visible.
		var wg sync.WaitGroup
		for _, idx := range eligible {
			wg.Add(1)
			go func(step *types.Step) {
				defer wg.Done()
				e.executeStep(ctx, intent, step, logger)
			}(&intent.Steps[idx])
		}
		wg.Wait()
	}
}

// markSkipped propagates failure along branches: a pending step with a failed
// or skipped dependency will never run and is marked skipped. Returns whether
// any step changed state.
func (e *StepExecutor) markSkipped(intent *types.Intent, logger zerolog.Logger) bool {
	statusByID := stepStatusIndex(intent.Steps)
	progressed := false

	for i := range intent.Steps {
		step := &intent.Steps[i]
		if step.Status != types.StepStatusPending {
			continue
		}
		for _, dep := range step.Dependencies() {
			depStatus, known := statusByID[dep]
			if !known {
				continue
			}
			if depStatus == types.StepStatusFailed || depStatus == types.StepStatusSkipped {
				step.Status = types.StepStatusSkipped
				step.ErrorMessage = "dependency " + dep + " did not complete"
				if err := e.db.UpdateStep(step); err != nil {
					logger.Error().Err(err).Str("step_id", step.StepID).Msg("failed to persist skipped step")
				}
				metrics.StepsExecuted.WithLabelValues(string(step.Action), string(types.StepStatusSkipped)).Inc()
				progressed = true
				break
			}
		}
	}

	return progressed
}

// failUnresolvable marks any step still pending after a zero-progress scan:
// its dependencies can never complete (cycle or missing producer).
func (e *StepExecutor) failUnresolvable(intent *types.Intent, logger zerolog.Logger) {
	for i := range intent.Steps {
		step := &intent.Steps[i]
		if step.Status != types.StepStatusPending {
			continue
		}
		depErr := &types.UnresolvableDependencyError{StepID: step.StepID}
		step.Status = types.StepStatusFailed
		step.ErrorMessage = depErr.Error()
		if err := e.db.UpdateStep(step); err != nil {
			logger.Error().Err(err).Str("step_id", step.StepID).Msg("failed to persist unresolvable step")
		}
		metrics.StepsExecuted.WithLabelValues(string(step.Action), string(types.StepStatusFailed)).Inc()
		logger.Warn().Str("step_id", step.StepID).Msg("step failed: unresolvable dependency")
	}
}

func (e *StepExecutor) executeStep(ctx context.Context, intent *types.Intent, step *types.Step, logger zerolog.Logger) {
	started := time.Now()
	step.Status = types.StepStatusExecuting
	step.StartedAt = &started
	if err := e.db.UpdateStep(step); err != nil {
		logger.Error().Err(err).Str("step_id", step.StepID).Msg("failed to mark step executing")
	}

	var (
		result *domain.Result
		err    error
	)

	if step.Action == types.ActionMonitor {
		err = e.registerMonitor(intent, step)
		if err == nil {
			result = &domain.Result{Success: true}
		}
	} else {
		result, err = e.dispatch(ctx, intent, step)
	}

	completed := time.Now()
	step.CompletedAt = &completed

	if err != nil {
		step.Status = types.StepStatusFailed
		step.ErrorMessage = err.Error()
		logger.Warn().Err(err).Str("step_id", step.StepID).Str("action", string(step.Action)).Msg("step failed")
	} else {
		step.Status = types.StepStatusCompleted
		step.Result = encodeResult(result)
		logger.Info().
			Str("step_id", step.StepID).
			Str("action", string(step.Action)).
			Dur("duration", completed.Sub(started)).
			Msg("step completed")
	}

	if dbErr := e.db.UpdateStep(step); dbErr != nil {
		logger.Error().Err(dbErr).Str("step_id", step.StepID).Msg("failed to persist step outcome")
	}
	metrics.StepsExecuted.WithLabelValues(string(step.Action), string(step.Status)).Inc()
}

func (e *StepExecutor) dispatch(ctx context.Context, intent *types.Intent, step *types.Step) (*domain.Result, error) {
	handler, err := e.handlers.ForStepAction(step.Action)
	if err != nil {
		return nil, err
	}

	params := decodeParams(step.Params)
	amount, _ := strconv.ParseFloat(params["amount"], 64)

	dispatchCtx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	defer cancel()

	result, err := handler.Execute(dispatchCtx, domain.Request{
		Reference: step.StepID,
		Owner:     intent.OwnerID,
		Amount:    amount,
		Token:     params["token"],
		Params:    params,
	})
	if err != nil {
		return nil, &types.DomainExecutionError{Operation: string(step.Action), Err: err}
	}
	return result, nil
}

func (e *StepExecutor) registerMonitor(intent *types.Intent, step *types.Step) error {
	params := decodeParams(step.Params)
	threshold, err := strconv.ParseFloat(params["threshold"], 64)
	if err != nil {
		return &types.ValidationError{Field: "threshold", Reason: "not a number"}
	}

	return e.registry.Register(&types.MonitoringRule{
		IntentID:     intent.IntentID,
		Metric:       params["metric"],
		Operator:     params["operator"],
		Threshold:    threshold,
		Action:       params["action"],
		ActionParams: params["action_params"],
	})
}

// eligibleSteps returns indexes of pending steps whose dependencies have all
// completed.
func eligibleSteps(steps []types.Step) []int {
	statusByID := stepStatusIndex(steps)

	var eligible []int
	for i := range steps {
		step := &steps[i]
		if step.Status != types.StepStatusPending {
			continue
		}
		ready := true
		for _, dep := range step.Dependencies() {
			if statusByID[dep] != types.StepStatusCompleted {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, i)
		}
	}
	return eligible
}

func stepStatusIndex(steps []types.Step) map[string]types.StepStatus {
	statusByID := make(map[string]types.StepStatus, len(steps))
	for i := range steps {
		statusByID[steps[i].StepID] = steps[i].Status
	}
	return statusByID
}

func finalStatus(steps []types.Step) types.IntentStatus {
	for i := range steps {
		if steps[i].Status == types.StepStatusFailed {
			return types.IntentStatusFailed
		}
	}
	return types.IntentStatusCompleted
}

func decodeParams(raw string) map[string]string {
	params := map[string]string{}
	if raw == "" {
		return params
	}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return map[string]string{}
	}
	return params
}

func encodeResult(result *domain.Result) string {
	if result == nil {
		return ""
	}
	encoded, err := json.Marshal(map[string]interface{}{
		"tx_ref":           result.TxRef,
		"amount_processed": result.AmountProcessed,
		"cost":             result.Cost,
	})
	if err != nil {
		return ""
	}
	return string(encoded)
}
