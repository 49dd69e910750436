package types

import "time"

// OrderHistoryResponse groups a standing order with its execution ledger.
type OrderHistoryResponse struct {
	Order   *StandingOrder    `json:"order"`
	Records []ExecutionRecord `json:"records"`
}

// IntentStatusResponse is the full view of an intent: its steps and any
// monitoring rules the execution registered.
type IntentStatusResponse struct {
	Intent *Intent          `json:"intent"`
	Rules  []MonitoringRule `json:"rules,omitempty"`
}

// TickResponse reports one scheduler evaluation cycle.
type TickResponse struct {
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
	Timestamp time.Time `json:"timestamp"`
}
