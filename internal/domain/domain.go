package domain

import (
	"context"
	"fmt"

	"github.com/ksred/autopilot/internal/types"
)

// Request carries everything a domain operation needs for one call. Reference
// is the order or step ID the call executes on behalf of.
type Request struct {
	Reference string
	Owner     string
	Amount    float64
	Token     string
	Params    map[string]string
}

// Result is the outcome of one domain operation call. Triggered is only
// meaningful for limit-trigger checks: a successful check with Triggered false
// means the condition was evaluated but not met.
type Result struct {
	Success         bool
	TxRef           string
	AmountProcessed float64
	Cost            float64
	Triggered       bool
}

// Handler is a single domain operation collaborator. Implementations must
// honour ctx cancellation; the engine bounds every call with a timeout and
// treats an expired context as a failed execution. Calls are not assumed to be
// idempotent; retrying is the caller's decision.
type Handler interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Handlers is the closed dispatch table from order type or step action to the
// operation that serves it. Having one field per operation keeps the set of
// supported operations a compile-time property.
type Handlers struct {
	Buy        Handler
	Stake      Handler
	DCA        Handler
	Vote       Handler
	Rebalance  Handler
	LimitCheck Handler
	Withdraw   Handler
}

// Validate confirms every operation has a handler wired in.
func (h Handlers) Validate() error {
	missing := ""
	switch {
	case h.Buy == nil:
		missing = "buy"
	case h.Stake == nil:
		missing = "stake"
	case h.DCA == nil:
		missing = "dca"
	case h.Vote == nil:
		missing = "vote"
	case h.Rebalance == nil:
		missing = "rebalance"
	case h.LimitCheck == nil:
		missing = "limit check"
	case h.Withdraw == nil:
		missing = "withdraw"
	}
	if missing != "" {
		return fmt.Errorf("no %s handler configured", missing)
	}
	return nil
}

// ForOrderType resolves the handler serving a standing order type.
func (h Handlers) ForOrderType(t types.OrderType) (Handler, error) {
	switch t {
	case types.OrderTypeRecurringBuy:
		return h.Buy, nil
	case types.OrderTypeRecurringStake:
		return h.Stake, nil
	case types.OrderTypeDCA:
		return h.DCA, nil
	case types.OrderTypeAutoVote:
		return h.Vote, nil
	case types.OrderTypeRebalance:
		return h.Rebalance, nil
	case types.OrderTypeLimitOrder:
		return h.LimitCheck, nil
	default:
		return nil, fmt.Errorf("unknown order type %q", t)
	}
}

// ForStepAction resolves the handler serving a step action. ActionMonitor has
// no handler: the step executor services it directly.
func (h Handlers) ForStepAction(a types.StepAction) (Handler, error) {
	switch a {
	case types.ActionBuy:
		return h.Buy, nil
	case types.ActionStake:
		return h.Stake, nil
	case types.ActionVote:
		return h.Vote, nil
	case types.ActionRebalance:
		return h.Rebalance, nil
	case types.ActionWithdraw:
		return h.Withdraw, nil
	default:
		return nil, fmt.Errorf("unknown step action %q", a)
	}
}

// MetricSource supplies named current values (price, yield) for monitoring
// rule evaluation and limit-trigger checks.
type MetricSource interface {
	CurrentValue(ctx context.Context, name string) (float64, error)
}
