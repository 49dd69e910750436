package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/autopilot/internal/domain"
	"github.com/ksred/autopilot/internal/notify"
	"github.com/ksred/autopilot/internal/types"
	"github.com/ksred/autopilot/pkg/metrics"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// EvalSummary reports one evaluation pass over the active rules.
type EvalSummary struct {
	Evaluated int
	Triggered int
	Errors    int
}

// Registry holds post-execution condition watchers. Rules are created by the
// step executor, evaluated here against the metrics collaborator, and fire at
// most once each.
type Registry struct {
	db       *Database
	source   domain.MetricSource
	handlers domain.Handlers
	notifier notify.Notifier
	interval time.Duration
}

func NewRegistry(gormDB *gorm.DB, source domain.MetricSource, handlers domain.Handlers, notifier notify.Notifier, interval time.Duration) *Registry {
	return &Registry{
		db:       NewDatabase(gormDB),
		source:   source,
		handlers: handlers,
		notifier: notifier,
		interval: interval,
	}
}

// GetDB exposes the rule store to the intent service for status reads.
func (r *Registry) GetDB() *Database {
	return r.db
}

// Register activates a new rule. Identity is assigned here.
func (r *Registry) Register(rule *types.MonitoringRule) error {
	switch rule.Operator {
	case types.CompareGT, types.CompareGTE, types.CompareLT, types.CompareLTE:
	default:
		return &types.ValidationError{Field: "operator", Reason: "unknown comparison operator"}
	}
	if rule.Metric == "" {
		return &types.ValidationError{Field: "metric", Reason: "required"}
	}
	if rule.Action != types.RuleActionAlert && rule.Action != types.RuleActionWithdraw {
		return &types.ValidationError{Field: "action", Reason: "unknown rule action"}
	}

	rule.RuleID = "RUL_" + uuid.New().String()
	rule.Active = true
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = time.Now()

	if err := r.db.CreateRule(rule); err != nil {
		return &types.PersistenceError{Operation: "rule create", Err: err}
	}

	log.Info().
		Str("component", "monitor").
		Str("rule_id", rule.RuleID).
		Str("intent_id", rule.IntentID).
		Str("metric", rule.Metric).
		Str("operator", rule.Operator).
		Float64("threshold", rule.Threshold).
		Msg("monitoring rule registered")

	return nil
}

// Evaluate checks every active rule's condition once. Rule failures are
// isolated: a metric lookup or action error on one rule never blocks the rest.
func (r *Registry) Evaluate(ctx context.Context, now time.Time) EvalSummary {
	logger := log.With().Str("component", "monitor").Logger()

	rules, err := r.db.ActiveRules()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load active rules")
		return EvalSummary{Errors: 1}
	}

	metrics.ActiveRules.Set(float64(len(rules)))

	var summary EvalSummary
	for i := range rules {
		rule := &rules[i]
		summary.Evaluated++

		triggered, err := r.evaluateRule(ctx, rule, now)
		if err != nil {
			summary.Errors++
			logger.Error().
				Err(err).
				Str("rule_id", rule.RuleID).
				Msg("rule evaluation failed")
			continue
		}
		if triggered {
			summary.Triggered++
		}
	}

	return summary
}

func (r *Registry) evaluateRule(ctx context.Context, rule *types.MonitoringRule, now time.Time) (bool, error) {
	value, err := r.source.CurrentValue(ctx, rule.Metric)
	if err != nil {
		return false, fmt.Errorf("metric lookup: %w", err)
	}

	if !conditionMet(rule.Operator, value, rule.Threshold) {
		return false, nil
	}

	// Claim before acting: losing the compare-and-set means another
	// evaluation already fired this rule.
	claimed, err := r.db.ClaimTrigger(rule.RuleID, now)
	if err != nil {
		return false, &types.PersistenceError{Operation: "rule trigger claim", Err: err}
	}
	if !claimed {
		return false, nil
	}

	metrics.RulesTriggered.Inc()
	log.Info().
		Str("component", "monitor").
		Str("rule_id", rule.RuleID).
		Str("metric", rule.Metric).
		Float64("value", value).
		Float64("threshold", rule.Threshold).
		Str("action", rule.Action).
		Msg("monitoring rule triggered")

	if err := r.performAction(ctx, rule, value); err != nil {
		// The rule stays deactivated: triggering is exactly-once even when
		// the action itself fails.
		return true, fmt.Errorf("rule action: %w", err)
	}

	return true, nil
}

func (r *Registry) performAction(ctx context.Context, rule *types.MonitoringRule, value float64) error {
	switch rule.Action {
	case types.RuleActionAlert:
		message := fmt.Sprintf("Condition met: %s %s %.4f (current %.4f)",
			rule.Metric, rule.Operator, rule.Threshold, value)
		if err := r.notifier.Notify(ctx, rule.IntentID, message); err != nil {
			log.Warn().
				Str("component", "monitor").
				Str("rule_id", rule.RuleID).
				Err(err).
				Msg("alert delivery failed")
		}
		return nil

	case types.RuleActionWithdraw:
		_, err := r.handlers.Withdraw.Execute(ctx, domain.Request{
			Reference: rule.RuleID,
			Params:    map[string]string{"action_params": rule.ActionParams},
		})
		return err

	default:
		return fmt.Errorf("unknown rule action %q", rule.Action)
	}
}

// CancelForIntent deactivates all rules of a cancelled intent.
func (r *Registry) CancelForIntent(intentID string) error {
	if err := r.db.DeactivateForIntent(intentID); err != nil {
		return &types.PersistenceError{Operation: "rule deactivation", Err: err}
	}
	return nil
}

// Start begins the periodic evaluation loop.
func (r *Registry) Start(ctx context.Context) {
	logger := log.With().Str("component", "monitor").Logger()
	logger.Info().Dur("interval", r.interval).Msg("starting monitoring registry")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down monitoring registry")
			return
		case now := <-ticker.C:
			r.Evaluate(ctx, now)
		}
	}
}

func conditionMet(operator string, value, threshold float64) bool {
	switch operator {
	case types.CompareGT:
		return value > threshold
	case types.CompareGTE:
		return value >= threshold
	case types.CompareLT:
		return value < threshold
	case types.CompareLTE:
		return value <= threshold
	default:
		return false
	}
}
