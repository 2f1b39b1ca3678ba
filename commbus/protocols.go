// Package commbus provides the message router that connects agent mailboxes.
//
// The router is a switchboard: it delivers envelopes to the mailbox of the
// addressed role, fans broadcasts out to every other role, keeps the human
// channel out of mailboxes, and records a flat activity history.
//
// Protocol Categories:
//   - Delivery: Inbox (implemented by kernel.PriorityMailbox)
//   - Interception: Middleware
//   - Observation: ActivityListener
//   - Logging: Logger
package commbus

import (
	"context"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// Inbox is the delivery side of a mailbox.
type Inbox interface {
	Enqueue(env *envelope.Envelope)
}

// Middleware intercepts envelopes before and after routing.
// Before may rewrite the envelope, abort routing by returning nil, or reject
// it with an error. After observes the routing result.
type Middleware interface {
	Before(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)
	After(ctx context.Context, env *envelope.Envelope, delivered int, err error)
}

// ActivityListener is notified with a copy of every routed envelope.
type ActivityListener func(env *envelope.Envelope)

// Logger is the structured logger used by the router.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
