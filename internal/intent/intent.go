package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/autopilot/internal/monitor"
	"github.com/ksred/autopilot/internal/planner"
	"github.com/ksred/autopilot/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles intent intake and lifecycle: planning via the external
// planner, validation of the untrusted plan, confirmation signals, execution
// and cancellation.
type Service struct {
	db            *Database
	planner       planner.Planner
	executor      *StepExecutor
	registry      *monitor.Registry
	confirmations *Confirmations
	minConfidence float64
}

func NewService(gormDB *gorm.DB, plannerClient planner.Planner, executor *StepExecutor, registry *monitor.Registry, confirmations *Confirmations, minConfidence float64) *Service {
	return &Service{
		db:            NewDatabase(gormDB),
		planner:       plannerClient,
		executor:      executor,
		registry:      registry,
		confirmations: confirmations,
		minConfidence: minConfidence,
	}
}

// GetDB exposes the intent store, mirroring the other services.
func (s *Service) GetDB() *Database {
	return s.db
}

// Submit turns a user request into a validated, persisted intent ready for
// execution. The planner's output is untrusted: low confidence, unknown
// actions or an unsound dependency graph all reject the intent before
// anything is scheduled.
func (s *Service) Submit(ctx context.Context, ownerID, text string) (*types.Intent, error) {
	logger := log.With().
		Str("service", "intent").
		Str("owner_id", ownerID).
		Logger()

	plan, err := s.planner.PlanIntent(ctx, ownerID, text)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	if plan.Confidence < s.minConfidence {
		logger.Warn().
			Float64("confidence", plan.Confidence).
			Float64("min_confidence", s.minConfidence).
			Msg("plan rejected for low confidence")
		return nil, &types.ValidationError{Field: "confidence", Reason: "planner confidence below threshold"}
	}

	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	intent := &types.Intent{
		IntentID:             "INT_" + uuid.New().String(),
		OwnerID:              ownerID,
		RequestText:          text,
		Category:             plan.Category,
		Complexity:           plan.Complexity,
		Confidence:           plan.Confidence,
		RiskLevel:            plan.RiskLevel,
		RequiresConfirmation: plan.RequiresConfirmation,
		Status:               types.IntentStatusPlanning,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	intent.Steps = buildSteps(intent.IntentID, plan.Steps)

	if err := s.db.CreateIntentWithSteps(intent); err != nil {
		return nil, &types.PersistenceError{Operation: "intent create", Err: err}
	}

	// Register the waiter now so a confirmation arriving before the run
	// reaches its gate is not lost.
	if intent.RequiresConfirmation {
		s.confirmations.Prepare(intent.IntentID)
	}

	logger.Info().
		Str("intent_id", intent.IntentID).
		Str("category", intent.Category).
		Int("steps", len(intent.Steps)).
		Bool("requires_confirmation", intent.RequiresConfirmation).
		Msg("intent accepted")

	return intent, nil
}

// Execute drives a submitted intent to a terminal status.
func (s *Service) Execute(ctx context.Context, intentID string) (*types.Intent, error) {
	intent, err := s.db.GetIntent(intentID)
	if err != nil {
		return nil, &types.PersistenceError{Operation: "intent load", Err: err}
	}
	if intent == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return s.executor.Run(ctx, intent)
}

// Confirm delivers an approval or denial for an intent awaiting confirmation.
func (s *Service) Confirm(intentID string, approved bool) bool {
	delivered := s.confirmations.Resolve(intentID, approved)
	log.Info().
		Str("service", "intent").
		Str("intent_id", intentID).
		Bool("approved", approved).
		Bool("delivered", delivered).
		Msg("confirmation received")
	return delivered
}

// Cancel stops an intent. Further step scans stop; in-flight steps are left to
// finish; monitoring rules are deactivated.
func (s *Service) Cancel(intentID string) (bool, error) {
	ok, err := s.db.TransitionIntentStatus(intentID,
		[]types.IntentStatus{
			types.IntentStatusAnalyzing,
			types.IntentStatusPlanning,
			types.IntentStatusExecuting,
			types.IntentStatusMonitoring,
		},
		types.IntentStatusCancelled)
	if err != nil {
		return false, &types.PersistenceError{Operation: "intent cancel", Err: err}
	}
	if !ok {
		return false, nil
	}

	// A cancelled intent that was waiting on confirmation should stop
	// waiting; if no run ever started, the prepared waiter is dropped.
	s.confirmations.Resolve(intentID, false)
	s.confirmations.Discard(intentID)

	if err := s.registry.CancelForIntent(intentID); err != nil {
		return true, err
	}

	log.Info().
		Str("service", "intent").
		Str("intent_id", intentID).
		Msg("intent cancelled")

	return true, nil
}

// Status returns an owner-scoped view of an intent with its monitoring rules.
func (s *Service) Status(intentID, ownerID string) (*types.IntentStatusResponse, error) {
	intent, err := s.db.GetIntentByOwner(intentID, ownerID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, nil
	}

	rules, err := s.registry.GetDB().RulesForIntent(intentID)
	if err != nil {
		return nil, err
	}

	return &types.IntentStatusResponse{Intent: intent, Rules: rules}, nil
}

// validatePlan checks the structural soundness of a plan: unique refs, known
// actions, resolvable dependencies and an acyclic graph.
func validatePlan(plan *planner.IntentPlan) error {
	if len(plan.Steps) == 0 {
		return &types.ValidationError{Field: "steps", Reason: "plan has no steps"}
	}

	refs := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if step.Ref == "" {
			return &types.ValidationError{Field: "ref", Reason: "step ref required"}
		}
		if refs[step.Ref] {
			return &types.ValidationError{Field: "ref", Reason: "duplicate step ref " + step.Ref}
		}
		refs[step.Ref] = true

		switch step.Action {
		case types.ActionBuy, types.ActionStake, types.ActionVote,
			types.ActionRebalance, types.ActionWithdraw, types.ActionMonitor:
		default:
			return &types.ValidationError{Field: "action", Reason: "unknown action " + string(step.Action)}
		}
	}

	for _, step := range plan.Steps {
		for _, dep := range step.DependsOn {
			if !refs[dep] {
				return &types.ValidationError{Field: "depends_on", Reason: "unknown dependency " + dep}
			}
			if dep == step.Ref {
				return &types.ValidationError{Field: "depends_on", Reason: "step depends on itself"}
			}
		}
	}

	if hasCycle(plan.Steps) {
		return &types.ValidationError{Field: "depends_on", Reason: "dependency graph contains a cycle"}
	}

	return nil
}

// hasCycle runs Kahn's algorithm over the drafts: if topological elimination
// cannot consume every step, a cycle exists.
func hasCycle(steps []planner.StepDraft) bool {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		indegree[step.Ref] += 0
		for _, dep := range step.DependsOn {
			indegree[step.Ref]++
			dependents[dep] = append(dependents[dep], step.Ref)
		}
	}

	var queue []string
	for ref, degree := range indegree {
		if degree == 0 {
			queue = append(queue, ref)
		}
	}

	consumed := 0
	for len(queue) > 0 {
		ref := queue[0]
		queue = queue[1:]
		consumed++
		for _, dependent := range dependents[ref] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return consumed != len(steps)
}

// buildSteps materialises drafts into persistable steps, translating local
// refs into assigned step IDs.
func buildSteps(intentID string, drafts []planner.StepDraft) []types.Step {
	idByRef := make(map[string]string, len(drafts))
	for _, draft := range drafts {
		idByRef[draft.Ref] = "STP_" + uuid.New().String()
	}

	steps := make([]types.Step, 0, len(drafts))
	for _, draft := range drafts {
		step := types.Step{
			StepID:    idByRef[draft.Ref],
			IntentID:  intentID,
			Action:    draft.Action,
			Status:    types.StepStatusPending,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}

		if len(draft.Params) > 0 {
			if encoded, err := json.Marshal(draft.Params); err == nil {
				step.Params = string(encoded)
			}
		}

		deps := make([]string, 0, len(draft.DependsOn))
		for _, ref := range draft.DependsOn {
			deps = append(deps, idByRef[ref])
		}
		step.SetDependencies(deps)

		steps = append(steps, step)
	}

	return steps
}
