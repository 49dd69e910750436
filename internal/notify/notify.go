package notify

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Notifier delivers fire-and-forget messages to an owner. Delivery failures
// are logged by callers and never block or fail an execution.
type Notifier interface {
	Notify(ctx context.Context, target, message string) error
}

// LogNotifier writes notifications to the structured log. It stands in for a
// real delivery channel (email, push, webhook).
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, target, message string) error {
	log.Info().
		Str("component", "notifier").
		Str("target", target).
		Str("message", message).
		Msg("notification dispatched")
	return nil
}
