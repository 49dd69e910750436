package types

import "fmt"

// Safety gate denial reasons.
const (
	DenyDailyLimit    = "daily-limit"
	DenyLifetimeLimit = "lifetime-limit"
	DenyMaxExecutions = "max-executions"
)

// ValidationError rejects a malformed order or intent before it is ever
// scheduled. Validation failures are never recorded as executions.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// SafetyLimitError is a denial from the safety gate. Terminal denials complete
// the order; non-terminal denials skip the attempt and leave the order active.
type SafetyLimitError struct {
	Reason   string
	Terminal bool
}

func (e *SafetyLimitError) Error() string {
	return fmt.Sprintf("safety limit breached: %s", e.Reason)
}

// DomainExecutionError wraps a failed domain operation. The attempt is always
// recorded as a failed execution; the order stays active for the next tick.
type DomainExecutionError struct {
	Operation string
	Err       error
}

func (e *DomainExecutionError) Error() string {
	return fmt.Sprintf("domain operation %s failed: %v", e.Operation, e.Err)
}

func (e *DomainExecutionError) Unwrap() error {
	return e.Err
}

// UnresolvableDependencyError marks steps that can never run because a scan of
// the dependency graph made no progress (cycle or missing producer).
type UnresolvableDependencyError struct {
	StepID string
}

func (e *UnresolvableDependencyError) Error() string {
	return fmt.Sprintf("unresolvable dependency for step %s", e.StepID)
}

// PersistenceError is fatal for the single attempt it interrupts. The attempt
// is retried on the next tick, never silently dropped.
type PersistenceError struct {
	Operation string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Operation, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
