// Package sink adapts the delivery worker's output to a transport. The core
// never imports this; it is the push subsystem the worker hands due
// notifications to.
package sink

import (
	"context"
	"fmt"

	"notiq/internal/queue"
	"notiq/pkg/logx"
)

// Sink receives one due notification for one user.
type Sink interface {
	Deliver(ctx context.Context, userID string, e queue.Entry) error
}

// Log is a sink that only logs deliveries. Default when no transport is
// configured; also useful in tests.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (s *Log) Deliver(ctx context.Context, userID string, e queue.Entry) error {
	_ = ctx
	s.log.Info("delivered",
		logx.String("user", userID),
		logx.String("id", e.ID),
		logx.String("priority", e.Priority.String()),
		logx.String("app", e.Payload.App),
		logx.String("text", e.Payload.Text))
	return nil
}

// FormatEntry renders a queue entry as a single human-readable line.
func FormatEntry(e queue.Entry) string {
	from := e.Payload.Sender
	if from == "" {
		from = e.Payload.App
	}
	return fmt.Sprintf("[%s] %s: %s", e.Priority.String(), from, e.Payload.Text)
}
