package safety

import (
	"time"

	"github.com/ksred/autopilot/internal/ledger"
	"github.com/ksred/autopilot/internal/orders"
	"github.com/ksred/autopilot/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// dailyWindow is the rolling window the daily spend cap applies over.
const dailyWindow = 24 * time.Hour

// Decision is the outcome of a safety check. A terminal denial means the order
// has been transitioned to completed and will never run again; a non-terminal
// denial skips this attempt only.
type Decision struct {
	Allowed  bool
	Reason   string
	Terminal bool
}

// Gate evaluates spend and occurrence limits before an execution is allowed.
// All checks are read-only except the terminal completed transitions, which
// are applied as a compare-and-set together with the check so concurrent ticks
// cannot both observe the order as active.
type Gate struct {
	ledger   *ledger.Service
	orders   *orders.Database
	dailyCap float64
}

// NewGate creates a safety gate with the configured per-order daily cap.
func NewGate(ledgerService *ledger.Service, orderDB *orders.Database, dailyCap float64) *Gate {
	return &Gate{
		ledger:   ledgerService,
		orders:   orderDB,
		dailyCap: dailyCap,
	}
}

// Authorize runs the safety checks for one execution attempt, in order:
// rolling daily spend, lifetime spend limit, execution count limit. Calling it
// repeatedly without an intervening execution never mutates spend or counters.
func (g *Gate) Authorize(order *types.StandingOrder, now time.Time) (*Decision, error) {
	logger := log.With().
		Str("service", "safety").
		Str("order_id", order.OrderID).
		Logger()

	// (1) Rolling 24h spend against the configured cap. The order stays
	// active: a denied attempt may succeed on a later tick once the window
	// rolls past earlier spend.
	if g.dailyCap > 0 {
		spent, err := g.ledger.RollingSpend(order.OrderID, now, dailyWindow)
		if err != nil {
			return nil, &types.PersistenceError{Operation: "rolling spend lookup", Err: err}
		}
		if spent >= g.dailyCap {
			logger.Warn().
				Float64("rolling_spend", spent).
				Float64("daily_cap", g.dailyCap).
				Msg("daily spend cap reached, skipping attempt")
			return &Decision{Allowed: false, Reason: types.DenyDailyLimit}, nil
		}
	}

	// (2) Lifetime spend limit. The check is prospective: an attempt that
	// would push total spend past the limit is denied, and the order is
	// completed rather than left to fail forever.
	if order.TotalSpentLimit > 0 {
		if order.TotalSpent >= order.TotalSpentLimit ||
			order.TotalSpent+order.Amount > order.TotalSpentLimit {
			if err := g.complete(order, logger, types.DenyLifetimeLimit); err != nil {
				return nil, err
			}
			return &Decision{Allowed: false, Reason: types.DenyLifetimeLimit, Terminal: true}, nil
		}
	}

	// (3) Execution count limit, same terminal handling as (2).
	if order.MaxExecutions > 0 && order.ExecutionCount >= order.MaxExecutions {
		if err := g.complete(order, logger, types.DenyMaxExecutions); err != nil {
			return nil, err
		}
		return &Decision{Allowed: false, Reason: types.DenyMaxExecutions, Terminal: true}, nil
	}

	return &Decision{Allowed: true}, nil
}

func (g *Gate) complete(order *types.StandingOrder, logger zerolog.Logger, reason string) error {
	ok, err := g.orders.TransitionStatus(order.OrderID, types.OrderStatusActive, types.OrderStatusCompleted)
	if err != nil {
		return &types.PersistenceError{Operation: "safety completion", Err: err}
	}
	if ok {
		order.Status = types.OrderStatusCompleted
		logger.Info().
			Str("reason", reason).
			Float64("total_spent", order.TotalSpent).
			Int("execution_count", order.ExecutionCount).
			Msg("order completed by safety limit")
	}
	return nil
}
