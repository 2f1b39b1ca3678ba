// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and the zerolog-backed structured logger for the runtime.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// ROUTING METRICS
// =============================================================================

var (
	envelopesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_envelopes_routed_total",
			Help: "Total number of envelopes passed through the router",
		},
		[]string{"kind", "outcome"}, // outcome: delivered, broadcast, human, dropped
	)

	envelopeFanout = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "firm_envelope_fanout",
			Help:    "Number of mailboxes an envelope was delivered to",
			Buckets: []float64{0, 1, 2, 3, 4, 8},
		},
	)
)

// =============================================================================
// TASK METRICS
// =============================================================================

var (
	taskExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_task_executions_total",
			Help: "Total number of envelopes processed by agents",
		},
		[]string{"role", "status"}, // status: success, error
	)

	taskDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firm_task_duration_seconds",
			Help:    "Envelope processing duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"role"},
	)

	taskRequeuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_task_requeues_total",
			Help: "Envelopes downgraded and re-queued after a processing failure",
		},
		[]string{"role"},
	)

	mailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firm_mailbox_depth",
			Help: "Current number of envelopes per mailbox queue",
		},
		[]string{"role", "queue"}, // queue: inbox, backlog, outbox
	)

	agentSignedOff = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "firm_agent_signed_off",
			Help: "1 when the role has signed off, 0 otherwise",
		},
		[]string{"role"},
	)
)

// =============================================================================
// ORCHESTRATOR METRICS
// =============================================================================

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_commands_total",
			Help: "Operator commands applied by the orchestrator",
		},
		[]string{"command"},
	)

	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_snapshots_total",
			Help: "Persistence snapshots attempted",
		},
		[]string{"status"}, // status: success, error
	)

	clarificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_clarifications_total",
			Help: "Clarification round-trips served by the human bridge",
		},
		[]string{"status"},
	)

	convergenceTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "firm_convergence_total",
			Help: "Times the all-signed-off barrier was reached",
		},
	)
)

// =============================================================================
// LLM METRICS
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_llm_calls_total",
			Help: "Total number of LLM API calls",
		},
		[]string{"provider", "model", "status"}, // status: success, error
	)

	llmDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firm_llm_duration_seconds",
			Help:    "LLM call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)
)

// =============================================================================
// GRPC METRICS
// =============================================================================

var (
	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "firm_grpc_requests_total",
			Help: "Total gRPC requests",
		},
		[]string{"method", "status"}, // status: OK, InvalidArgument, Internal, etc.
	)

	grpcRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "firm_grpc_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordEnvelopeRouted records one pass through the router.
func RecordEnvelopeRouted(kind string, outcome string, delivered int) {
	envelopesRoutedTotal.WithLabelValues(kind, outcome).Inc()
	envelopeFanout.Observe(float64(delivered))
}

// RecordTaskExecution records one envelope processed by a role.
func RecordTaskExecution(role string, status string, durationMS int) {
	taskExecutionsTotal.WithLabelValues(role, status).Inc()
	taskDurationSeconds.WithLabelValues(role).Observe(float64(durationMS) / 1000.0)
}

// RecordTaskRequeue records a failed envelope put back into the mailbox.
func RecordTaskRequeue(role string) {
	taskRequeuesTotal.WithLabelValues(role).Inc()
}

// SetMailboxDepth publishes the current queue sizes of a mailbox.
func SetMailboxDepth(role string, inbox, backlog, outbox int) {
	mailboxDepth.WithLabelValues(role, "inbox").Set(float64(inbox))
	mailboxDepth.WithLabelValues(role, "backlog").Set(float64(backlog))
	mailboxDepth.WithLabelValues(role, "outbox").Set(float64(outbox))
}

// SetSignedOff publishes a role's sign-off flag.
func SetSignedOff(role string, signedOff bool) {
	v := 0.0
	if signedOff {
		v = 1.0
	}
	agentSignedOff.WithLabelValues(role).Set(v)
}

// RecordCommand records an applied operator command.
func RecordCommand(command string) {
	commandsTotal.WithLabelValues(command).Inc()
}

// RecordSnapshot records a persistence snapshot attempt.
func RecordSnapshot(status string) {
	snapshotsTotal.WithLabelValues(status).Inc()
}

// RecordClarification records a clarification round-trip.
func RecordClarification(status string) {
	clarificationsTotal.WithLabelValues(status).Inc()
}

// RecordConvergence records that every role signed off.
func RecordConvergence() {
	convergenceTotal.Inc()
}

// RecordLLMCall records LLM call metrics.
// This should be called after LLM generation completes.
func RecordLLMCall(provider string, model string, status string, durationMS int) {
	llmCallsTotal.WithLabelValues(provider, model, status).Inc()
	llmDurationSeconds.WithLabelValues(provider, model).Observe(float64(durationMS) / 1000.0)
}

// RecordGRPCRequest records gRPC request metrics.
// This should be called from gRPC interceptors.
func RecordGRPCRequest(method string, status string, durationMS int) {
	grpcRequestsTotal.WithLabelValues(method, status).Inc()
	grpcRequestDurationSeconds.WithLabelValues(method).Observe(float64(durationMS) / 1000.0)
}
