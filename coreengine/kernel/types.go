// Package kernel implements the agent-execution runtime.
//
// Key concepts:
//   - PriorityMailbox: per-role inbox, backlog and outbox
//   - AgentExecutor: the cooperative pull/process/handle loop for one role
//   - Orchestrator: executors, operator commands, clarifications, convergence
//   - AgentRuntimeState: the status record each executor maintains for itself
//   - Project: project-level state machine driven around the core
package kernel

import "fmt"

// Logger is the structured logger used across the kernel.
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

// =============================================================================
// Agent Status
// =============================================================================

// AgentStatus is what a role is doing right now, as shown on the dashboard.
type AgentStatus string

const (
	AgentStatusWorking AgentStatus = "working"
	AgentStatusWaiting AgentStatus = "waiting"
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusPaused  AgentStatus = "paused"
)

// =============================================================================
// Executor State
// =============================================================================

// ExecutorState is the control state of an AgentExecutor.
//
//	running <-> paused
//	running | paused -> shutting_down (terminal)
type ExecutorState string

const (
	ExecutorRunning      ExecutorState = "running"
	ExecutorPaused       ExecutorState = "paused"
	ExecutorShuttingDown ExecutorState = "shutting_down"
)

// IsTerminal returns true once shutdown has been requested.
func (s ExecutorState) IsTerminal() bool {
	return s == ExecutorShuttingDown
}

// StepResult reports what a single executor iteration did.
type StepResult string

const (
	StepIdle      StepResult = "idle"
	StepPaused    StepResult = "paused"
	StepProcessed StepResult = "processed"
	StepFailed    StepResult = "failed"
	StepStopped   StepResult = "stopped"
)

// =============================================================================
// Project State
// =============================================================================

// ProjectState is the project-level phase.
//
//	created -> discovery -> design -> implementation -> testing -> review -> delivered
//
// awaiting_input can be entered from any non-terminal phase and returns to the
// phase it interrupted. failed is terminal.
type ProjectState string

const (
	ProjectCreated        ProjectState = "created"
	ProjectDiscovery      ProjectState = "discovery"
	ProjectDesign         ProjectState = "design"
	ProjectImplementation ProjectState = "implementation"
	ProjectTesting        ProjectState = "testing"
	ProjectReview         ProjectState = "review"
	ProjectAwaitingInput  ProjectState = "awaiting_input"
	ProjectDelivered      ProjectState = "delivered"
	ProjectFailed         ProjectState = "failed"
)

// IsTerminal returns true for delivered and failed.
func (s ProjectState) IsTerminal() bool {
	return s == ProjectDelivered || s == ProjectFailed
}

// validPhaseTransitions lists the forward and rework edges between phases.
var validPhaseTransitions = map[ProjectState]map[ProjectState]bool{
	ProjectCreated:        {ProjectDiscovery: true},
	ProjectDiscovery:      {ProjectDesign: true},
	ProjectDesign:         {ProjectImplementation: true, ProjectDiscovery: true},
	ProjectImplementation: {ProjectTesting: true, ProjectDesign: true},
	ProjectTesting:        {ProjectReview: true, ProjectImplementation: true},
	ProjectReview:         {ProjectImplementation: true, ProjectTesting: true},
}

// IsValidPhaseTransition checks whether a worker-driven phase change is allowed.
// awaiting_input, delivered and failed are managed by the orchestrator.
func IsValidPhaseTransition(from, to ProjectState) bool {
	if targets, ok := validPhaseTransitions[from]; ok {
		return targets[to]
	}
	return false
}

// ParseProjectState converts a string into a ProjectState.
func ParseProjectState(s string) (ProjectState, error) {
	switch st := ProjectState(s); st {
	case ProjectCreated, ProjectDiscovery, ProjectDesign, ProjectImplementation, ProjectTesting,
		ProjectReview, ProjectAwaitingInput, ProjectDelivered, ProjectFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown project state %q", s)
}

// =============================================================================
// Severity
// =============================================================================

// Severity grades a concern raised by a role.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)
