package notify

import (
	"context"
	"fmt"
	"time"
)

// Message is the single structured payload the control plane sends to
// a channel or ticket system. Notification failures are logged by
// callers and never roll back approval or execution state.
type Message struct {
	Channel  string            `json:"channel,omitempty"`
	Severity string            `json:"severity,omitempty"` // info, warning, high
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Notifier is the generic "send" capability consumed by the core.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// ThrottleError signals a back-end told us when to retry (for example
// via a Retry-After header). The reliability wrapper honors it.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// Nop discards every message. Used when no back-end is configured and
// in tests.
type Nop struct{}

func (Nop) Send(ctx context.Context, msg Message) error { return nil }
