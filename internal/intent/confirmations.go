package intent

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrConfirmationTimeout reports that nobody confirmed or denied the intent
// within the allowed window.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// Confirmations routes external confirmation signals to executions waiting on
// them. One decision per intent: the first resolve wins, later ones find no
// waiter.
type Confirmations struct {
	mu      sync.Mutex
	waiters map[string]chan bool
}

func NewConfirmations() *Confirmations {
	return &Confirmations{
		waiters: make(map[string]chan bool),
	}
}

// Prepare registers a waiter ahead of execution so a decision arriving
// before the run reaches Await is buffered instead of rejected.
func (c *Confirmations) Prepare(intentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.waiters[intentID]; !exists {
		c.waiters[intentID] = make(chan bool, 1)
	}
}

// Discard drops any waiter for the intent. Used on cancellation, when no run
// will ever consume the decision.
func (c *Confirmations) Discard(intentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiters, intentID)
}

// Await blocks until the intent is confirmed, denied, or the timeout elapses.
func (c *Confirmations) Await(ctx context.Context, intentID string, timeout time.Duration) (bool, error) {
	c.mu.Lock()
	ch, exists := c.waiters[intentID]
	if !exists {
		ch = make(chan bool, 1)
		c.waiters[intentID] = ch
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, intentID)
		c.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case approved := <-ch:
		return approved, nil
	case <-time.After(timeout):
		return false, ErrConfirmationTimeout
	}
}

// Resolve delivers a confirmation decision. Returns false when no execution
// was waiting for this intent.
func (c *Confirmations) Resolve(intentID string, approved bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, exists := c.waiters[intentID]
	if !exists {
		return false
	}

	select {
	case ch <- approved:
		return true
	default:
		// Already resolved.
		return false
	}
}
