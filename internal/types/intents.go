package types

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type IntentStatus string

const (
	IntentStatusAnalyzing  IntentStatus = "ANALYZING"
	IntentStatusPlanning   IntentStatus = "PLANNING"
	IntentStatusExecuting  IntentStatus = "EXECUTING"
	IntentStatusMonitoring IntentStatus = "MONITORING"
	IntentStatusCompleted  IntentStatus = "COMPLETED"
	IntentStatusFailed     IntentStatus = "FAILED"
	IntentStatusCancelled  IntentStatus = "CANCELLED"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "PENDING"
	StepStatusExecuting StepStatus = "EXECUTING"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

// StepAction identifies the domain operation a step dispatches to.
// ActionMonitor is handled by the step executor itself: it registers a
// monitoring rule instead of calling a domain collaborator.
type StepAction string

const (
	ActionBuy       StepAction = "BUY"
	ActionStake     StepAction = "STAKE"
	ActionVote      StepAction = "VOTE"
	ActionRebalance StepAction = "REBALANCE"
	ActionWithdraw  StepAction = "WITHDRAW"
	ActionMonitor   StepAction = "MONITOR"
)

// Intent is a parsed user goal decomposed into a dependency graph of steps.
// The original request text is opaque to the engine; the parsed metadata comes
// from the planner collaborator and is validated before the intent is accepted.
type Intent struct {
	gorm.Model           `json:"-"`
	IntentID             string       `gorm:"uniqueIndex" json:"intent_id"`
	OwnerID              string       `gorm:"index" json:"owner_id"`
	RequestText          string       `json:"request_text"`
	Category             string       `json:"category"`
	Complexity           string       `json:"complexity"`
	Confidence           float64      `json:"confidence"`
	RiskLevel            string       `json:"risk_level"`
	RequiresConfirmation bool         `json:"requires_confirmation"`
	Status               IntentStatus `gorm:"index" json:"status"`
	Steps                []Step       `gorm:"foreignKey:IntentID;references:IntentID" json:"steps,omitempty"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Step is a single node of an intent's dependency graph. DependsOn is a JSON
// array of step IDs; Params is a JSON object of action parameters.
type Step struct {
	gorm.Model   `json:"-"`
	StepID       string     `gorm:"uniqueIndex" json:"step_id"`
	IntentID     string     `gorm:"index" json:"intent_id"`
	Action       StepAction `json:"action"`
	Params       string     `json:"params,omitempty"`
	DependsOn    string     `json:"depends_on,omitempty"`
	Status       StepStatus `json:"status"`
	Result       string     `json:"result,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Dependencies decodes the DependsOn JSON array. An empty or missing array
// means the step has no predecessors.
func (s *Step) Dependencies() []string {
	if s.DependsOn == "" {
		return nil
	}
	var deps []string
	if err := json.Unmarshal([]byte(s.DependsOn), &deps); err != nil {
		return nil
	}
	return deps
}

// SetDependencies encodes dep step IDs into the DependsOn column.
func (s *Step) SetDependencies(deps []string) {
	if len(deps) == 0 {
		s.DependsOn = ""
		return
	}
	encoded, err := json.Marshal(deps)
	if err != nil {
		return
	}
	s.DependsOn = string(encoded)
}

// Comparison operators for monitoring rule conditions.
const (
	CompareGT  = "GT"
	CompareGTE = "GTE"
	CompareLT  = "LT"
	CompareLTE = "LTE"
)

// Monitoring rule actions.
const (
	RuleActionAlert    = "ALERT"
	RuleActionWithdraw = "WITHDRAW"
)

// MonitoringRule is a post-execution condition watcher created by the step
// executor. A rule fires at most once: the trigger claims the rule by
// deactivating it atomically before the action runs.
type MonitoringRule struct {
	gorm.Model   `json:"-"`
	RuleID       string     `gorm:"uniqueIndex" json:"rule_id"`
	IntentID     string     `gorm:"index" json:"intent_id"`
	Metric       string     `json:"metric"`
	Operator     string     `json:"operator"`
	Threshold    float64    `json:"threshold"`
	Action       string     `json:"action"`
	ActionParams string     `json:"action_params,omitempty"`
	Active       bool       `gorm:"index" json:"active"`
	TriggeredAt  *time.Time `json:"triggered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
