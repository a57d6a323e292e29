package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhubert/acp-bridge/logger"
)

// Notifier wraps an Adapter so that delivery failures, including panics,
// are logged and never reach the caller.
type Notifier struct {
	adapter Adapter
	log     *slog.Logger
}

// NewNotifier wraps adapter.
func NewNotifier(adapter Adapter) *Notifier {
	return &Notifier{
		adapter: adapter,
		log:     logger.WithComponent("notifier").With("service", adapter.ServiceName()),
	}
}

// Adapter returns the wrapped adapter.
func (n *Notifier) Adapter() Adapter {
	return n.adapter
}

// Update sends update to the adapter.
func (n *Notifier) Update(ctx context.Context, sessionID string, update Update) {
	n.call("send_update", sessionID, func() error {
		return n.adapter.SendUpdate(ctx, sessionID, update)
	})
}

// Completion sends a turn completion to the adapter.
func (n *Notifier) Completion(ctx context.Context, sessionID, message, sessionURL string) {
	n.call("send_completion", sessionID, func() error {
		return n.adapter.SendCompletion(ctx, sessionID, message, sessionURL)
	})
}

// Error sends an error message to the adapter.
func (n *Notifier) Error(ctx context.Context, sessionID, message string) {
	n.call("send_error", sessionID, func() error {
		return n.adapter.SendError(ctx, sessionID, message)
	})
}

func (n *Notifier) call(op, sessionID string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("adapter panicked", "op", op, "sessionID", sessionID, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		n.log.Warn("adapter delivery failed", "op", op, "sessionID", sessionID, "error", err)
	}
}
