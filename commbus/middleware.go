package commbus

import (
	"context"
	"fmt"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/observability"
)

// =============================================================================
// LOGGING MIDDLEWARE
// =============================================================================

// LoggingMiddleware logs every envelope passing through the router.
type LoggingMiddleware struct {
	logger Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger Logger) *LoggingMiddleware {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LoggingMiddleware{logger: logger}
}

// Before logs envelope receipt.
func (m *LoggingMiddleware) Before(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	m.logger.Debug("router_received",
		"envelope_id", env.ID,
		"kind", string(env.Kind),
		"intent", string(env.Intent),
		"sender", string(env.Sender),
		"recipient", string(env.Recipient),
	)
	return env, nil
}

// After logs routing completion.
func (m *LoggingMiddleware) After(ctx context.Context, env *envelope.Envelope, delivered int, err error) {
	if err != nil {
		m.logger.Warn("router_failed", "envelope_id", env.ID, "error", err.Error())
		return
	}
	m.logger.Debug("router_completed", "envelope_id", env.ID, "delivered", delivered)
}

// =============================================================================
// METRICS MIDDLEWARE
// =============================================================================

// MetricsMiddleware records routing outcomes in Prometheus.
type MetricsMiddleware struct{}

// NewMetricsMiddleware creates a new MetricsMiddleware.
func NewMetricsMiddleware() *MetricsMiddleware {
	return &MetricsMiddleware{}
}

// Before passes the envelope through unchanged.
func (m *MetricsMiddleware) Before(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	return env, nil
}

// After records the routing outcome.
func (m *MetricsMiddleware) After(ctx context.Context, env *envelope.Envelope, delivered int, err error) {
	outcome := "delivered"
	switch {
	case err != nil:
		outcome = "dropped"
	case env.Recipient.IsHuman():
		outcome = "human"
	case env.Recipient.IsBroadcast():
		outcome = "broadcast"
	}
	observability.RecordEnvelopeRouted(string(env.Kind), outcome, delivered)
}

// =============================================================================
// VALIDATION MIDDLEWARE
// =============================================================================

// ValidationMiddleware rejects malformed envelopes before they reach a mailbox.
type ValidationMiddleware struct{}

// NewValidationMiddleware creates a new ValidationMiddleware.
func NewValidationMiddleware() *ValidationMiddleware {
	return &ValidationMiddleware{}
}

// Before checks classification fields and reply linkage.
func (m *ValidationMiddleware) Before(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if env.ID == "" {
		return nil, &RouterError{Message: "envelope has no id"}
	}
	if !env.Kind.IsValid() {
		return nil, &RouterError{Message: fmt.Sprintf("envelope %s has unknown kind %q", env.ID, env.Kind)}
	}
	if !env.Priority.IsValid() {
		return nil, &RouterError{Message: fmt.Sprintf("envelope %s has invalid priority %d", env.ID, int(env.Priority))}
	}
	if env.Kind.IsReply() && env.ParentID == "" {
		return nil, &RouterError{Message: fmt.Sprintf("reply %s has no parent", env.ID)}
	}
	return env, nil
}

// After does nothing.
func (m *ValidationMiddleware) After(ctx context.Context, env *envelope.Envelope, delivered int, err error) {
}
