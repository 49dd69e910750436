package planner

import (
	"context"
	"strings"

	"github.com/ksred/autopilot/internal/types"
)

// StepDraft is one untrusted step proposal. Ref names the step within the
// plan; DependsOn refers to other drafts' Refs.
type StepDraft struct {
	Ref       string            `json:"ref"`
	Action    types.StepAction  `json:"action"`
	Params    map[string]string `json:"params,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
}

// IntentPlan is the planner's proposal for a user request. The engine treats
// it as untrusted input: it is validated before any step is persisted.
type IntentPlan struct {
	Category             string      `json:"category"`
	Complexity           string      `json:"complexity"`
	Confidence           float64     `json:"confidence"`
	RiskLevel            string      `json:"risk_level"`
	RequiresConfirmation bool        `json:"requires_confirmation"`
	Steps                []StepDraft `json:"steps"`
}

// Planner is the NLP/AI collaborator boundary. Implementations turn free text
// into order drafts or intent plans with a confidence score.
type Planner interface {
	PlanIntent(ctx context.Context, ownerID, text string) (*IntentPlan, error)
}

// Scripted is a deterministic planner for the simulation binary and tests. It
// recognises a few canned phrasings; everything else comes back as a low
// confidence single-step plan that validation will reject.
type Scripted struct{}

func NewScripted() *Scripted {
	return &Scripted{}
}

func (p *Scripted) PlanIntent(_ context.Context, _, text string) (*IntentPlan, error) {
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "yield"):
		return &IntentPlan{
			Category:             "yield",
			Complexity:           "medium",
			Confidence:           0.86,
			RiskLevel:            "low",
			RequiresConfirmation: false,
			Steps: []StepDraft{
				{Ref: "buy", Action: types.ActionBuy, Params: map[string]string{"token": "USDC", "amount": "100"}},
				{Ref: "stake", Action: types.ActionStake, Params: map[string]string{"token": "USDC", "amount": "100"}, DependsOn: []string{"buy"}},
				{Ref: "watch", Action: types.ActionMonitor, Params: map[string]string{
					"metric": "yield:USDC", "operator": types.CompareLT, "threshold": "0.02", "action": types.RuleActionAlert,
				}, DependsOn: []string{"stake"}},
			},
		}, nil

	case strings.Contains(lower, "rebalance"):
		return &IntentPlan{
			Category:             "portfolio",
			Complexity:           "high",
			Confidence:           0.78,
			RiskLevel:            "medium",
			RequiresConfirmation: true,
			Steps: []StepDraft{
				{Ref: "rebalance", Action: types.ActionRebalance, Params: map[string]string{"threshold": "0.05"}},
			},
		}, nil

	default:
		return &IntentPlan{
			Category:   "unknown",
			Complexity: "low",
			Confidence: 0.2,
			RiskLevel:  "unknown",
			Steps: []StepDraft{
				{Ref: "buy", Action: types.ActionBuy},
			},
		}, nil
	}
}
