package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/observability"
)

var tracer = otel.Tracer("ai-firm/kernel")

// ExecutorConfig holds the polling intervals of an executor.
type ExecutorConfig struct {
	// IdleInterval is how long to wait when the mailbox has nothing eligible.
	IdleInterval time.Duration
	// PauseInterval is how long to wait between checks while paused.
	PauseInterval time.Duration
}

// DefaultExecutorConfig returns the default polling intervals.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		IdleInterval:  300 * time.Millisecond,
		PauseInterval: 500 * time.Millisecond,
	}
}

// ExecutorDeps are the collaborators of an AgentExecutor. Reasoner, Mailbox
// and Router are required.
type ExecutorDeps struct {
	Reasoner    Reasoner
	Mailbox     *PriorityMailbox
	Router      Sender
	State       *AgentRuntimeState
	Memory      Memory
	Artifacts   ArtifactStore
	Coordinator Coordinator
	Project     *Project
	Teammates   []envelope.Role
	Clock       Clock
	Logger      Logger
}

// AgentExecutor drives one role: dequeue, process through the Reasoner,
// handle the Outcome, repeat.
//
// Pause, Resume and Shutdown are thread-safe, idempotent and cooperative:
// they take effect at the next iteration, never in the middle of a task.
// Commands delivered with Deliver are applied at the start of an iteration.
type AgentExecutor struct {
	role        envelope.Role
	reasoner    Reasoner
	mailbox     *PriorityMailbox
	router      Sender
	state       *AgentRuntimeState
	memory      Memory
	artifacts   ArtifactStore
	coordinator Coordinator
	project     *Project
	teammates   []envelope.Role
	clock       Clock
	logger      Logger
	cfg         ExecutorConfig

	control  ExecutorState
	commands []Command
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	mu       sync.Mutex
}

// NewAgentExecutor creates an executor for role.
func NewAgentExecutor(role envelope.Role, deps ExecutorDeps, cfg ExecutorConfig) *AgentExecutor {
	if cfg.IdleInterval <= 0 || cfg.PauseInterval <= 0 {
		def := DefaultExecutorConfig()
		if cfg.IdleInterval <= 0 {
			cfg.IdleInterval = def.IdleInterval
		}
		if cfg.PauseInterval <= 0 {
			cfg.PauseInterval = def.PauseInterval
		}
	}
	if deps.State == nil {
		deps.State = NewAgentRuntimeState(role)
	}
	if deps.Memory == nil {
		deps.Memory = NewAgentMemory(0)
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return &AgentExecutor{
		role:        role,
		reasoner:    deps.Reasoner,
		mailbox:     deps.Mailbox,
		router:      deps.Router,
		state:       deps.State,
		memory:      deps.Memory,
		artifacts:   deps.Artifacts,
		coordinator: deps.Coordinator,
		project:     deps.Project,
		teammates:   deps.Teammates,
		clock:       deps.Clock,
		logger:      deps.Logger,
		cfg:         cfg,
		control:     ExecutorRunning,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Role returns the role driven by this executor.
func (e *AgentExecutor) Role() envelope.Role { return e.role }

// State returns the runtime state record.
func (e *AgentExecutor) State() *AgentRuntimeState { return e.state }

// Mailbox returns the executor's mailbox.
func (e *AgentExecutor) Mailbox() *PriorityMailbox { return e.mailbox }

// Memory returns the role's memory.
func (e *AgentExecutor) Memory() Memory { return e.memory }

// Done is closed when Run returns.
func (e *AgentExecutor) Done() <-chan struct{} { return e.done }

// =============================================================================
// Control
// =============================================================================

// Pause stops consuming mailbox items from the next iteration on.
func (e *AgentExecutor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.control == ExecutorRunning {
		e.control = ExecutorPaused
		e.logger.Info("executor_paused", "role", string(e.role))
	}
}

// Resume returns a paused executor to normal polling.
func (e *AgentExecutor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.control == ExecutorPaused {
		e.control = ExecutorRunning
		e.logger.Info("executor_resumed", "role", string(e.role))
	}
}

// Shutdown asks the loop to stop after the task in flight.
func (e *AgentExecutor) Shutdown() {
	e.mu.Lock()
	e.control = ExecutorShuttingDown
	e.mu.Unlock()
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.logger.Info("executor_shutdown_requested", "role", string(e.role))
	})
}

// ControlState returns running, paused or shutting_down.
func (e *AgentExecutor) ControlState() ExecutorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.control
}

// Deliver queues a command for the executor to apply to itself.
func (e *AgentExecutor) Deliver(cmd Command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands = append(e.commands, cmd)
}

// RefreshCounters copies the mailbox sizes into the runtime state.
func (e *AgentExecutor) RefreshCounters() MailboxCounts {
	c := e.mailbox.Counts()
	e.state.UpdateCounts(c)
	observability.SetMailboxDepth(string(e.role), c.Inbox, c.Backlog, c.Outbox)
	return c
}

func (e *AgentExecutor) applyCommands() {
	e.mu.Lock()
	pending := e.commands
	e.commands = nil
	e.mu.Unlock()

	for _, cmd := range pending {
		switch cmd.Kind {
		case CommandPause:
			e.Pause()
		case CommandResume:
			e.Resume()
		case CommandShutdown:
			e.Shutdown()
		case CommandInject:
			e.memory.AddGuidance(cmd.Text)
			e.logger.Info("guidance_injected", "role", string(e.role), "chars", len(cmd.Text))
		case CommandRevokeSignOff:
			e.state.RevokeSignOff(cmd.Text)
			observability.SetSignedOff(string(e.role), false)
			e.logger.Info("signoff_revoked", "role", string(e.role), "reason", cmd.Text)
		}
	}
}

// =============================================================================
// Loop
// =============================================================================

// Run drives the loop until shutdown or ctx cancellation.
func (e *AgentExecutor) Run(ctx context.Context) {
	defer close(e.done)
	e.logger.Info("executor_started", "role", string(e.role))
	defer e.logger.Info("executor_stopped", "role", string(e.role))

	for {
		if ctx.Err() != nil {
			return
		}
		switch e.Step(ctx) {
		case StepStopped:
			return
		case StepIdle:
			if !sleep(ctx, e.clock, e.cfg.IdleInterval, e.stopCh) {
				continue
			}
		case StepPaused:
			if !sleep(ctx, e.clock, e.cfg.PauseInterval, e.stopCh) {
				continue
			}
		}
	}
}

// Step runs exactly one loop iteration.
func (e *AgentExecutor) Step(ctx context.Context) StepResult {
	e.applyCommands()

	switch e.ControlState() {
	case ExecutorShuttingDown:
		return StepStopped
	case ExecutorPaused:
		if e.state.Status() != AgentStatusPaused {
			e.state.SetPaused()
		}
		e.RefreshCounters()
		return StepPaused
	}

	env := e.mailbox.DequeueNext()
	if env == nil {
		if n := e.mailbox.BacklogCount(); n > 0 {
			e.state.SetWaiting(fmt.Sprintf("%d task(s) awaiting responses", n))
		} else if e.state.Status() != AgentStatusIdle {
			e.state.SetIdle()
		}
		e.RefreshCounters()
		return StepIdle
	}
	return e.process(ctx, env)
}

func (e *AgentExecutor) process(ctx context.Context, env *envelope.Envelope) StepResult {
	role := string(e.role)
	if err := env.Start(); err != nil {
		e.logger.Warn("envelope_skipped", "role", role, "envelope_id", env.ID, "error", err.Error())
		e.mailbox.Done(env)
		return StepIdle
	}
	e.state.SetWorking(env.ID, env.Summary())

	ctx, span := tracer.Start(ctx, "executor.process", trace.WithAttributes(
		attribute.String("firm.role", role),
		attribute.String("firm.envelope.id", env.ID),
		attribute.String("firm.envelope.kind", string(env.Kind)),
		attribute.String("firm.envelope.intent", string(env.Intent)),
		attribute.Int("firm.envelope.attempts", env.Attempts),
	))
	defer span.End()

	start := e.clock.Now()
	outcome, err := SafeExecuteWithResult(e.logger, "process_"+role, func() (*Outcome, error) {
		return e.reasoner.Process(ctx, env, e.roleContext())
	})
	durationMS := int(e.clock.Now().Sub(start).Milliseconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordTaskExecution(role, "error", durationMS)
		e.requeue(env, err)
		return StepFailed
	}
	if outcome == nil {
		outcome = &Outcome{}
	}

	if herr := SafeExecute(e.logger, "handle_outcome_"+role, func() error {
		e.handleOutcome(ctx, env, outcome)
		return nil
	}); herr != nil {
		span.RecordError(herr)
	}

	if err := env.Complete(); err != nil {
		// The reasoner or a handler moved the envelope to a terminal status.
		e.logger.Warn("envelope_complete_failed", "role", role, "envelope_id", env.ID, "error", err.Error())
	}
	e.mailbox.Done(env)
	e.state.IncrementCompleted()
	e.state.SetIdle()
	e.RefreshCounters()
	span.SetStatus(codes.Ok, "processed")
	observability.RecordTaskExecution(role, "success", durationMS)
	e.logger.Debug("envelope_processed",
		"role", role,
		"envelope_id", env.ID,
		"duration_ms", durationMS,
	)
	return StepProcessed
}

// requeue downgrades a failed envelope to Low priority and puts it back.
func (e *AgentExecutor) requeue(env *envelope.Envelope, cause error) {
	role := string(e.role)
	if err := env.Downgrade(); err != nil {
		e.logger.Error("envelope_requeue_failed", "role", role, "envelope_id", env.ID, "error", err.Error())
		e.mailbox.Done(env)
		e.state.SetIdle()
		return
	}
	e.mailbox.Requeue(env)
	e.state.SetIdle()
	e.RefreshCounters()
	observability.RecordTaskRequeue(role)

	kind := "error"
	if errors.Is(cause, ErrPanicRecovered) {
		kind = "panic"
	}
	e.logger.Warn("task_failed_requeued",
		"role", role,
		"envelope_id", env.ID,
		"attempts", env.Attempts,
		"failure", kind,
		"error", cause.Error(),
	)
}

func (e *AgentExecutor) roleContext() RoleContext {
	snap := e.state.Snapshot()
	rc := RoleContext{
		Role:      e.role,
		Teammates: e.teammates,
		Memory:    e.memory.Summary(),
		Guidance:  e.memory.Guidance(),
		SignedOff: snap.SignedOff,
		Blockers:  snap.Blockers,
	}
	if e.project != nil {
		rec := e.project.Record()
		rc.ProjectID = rec.ID
		rc.ProjectName = rec.Name
		rc.Idea = rec.Idea
		rc.ProjectState = rec.State
	}
	return rc
}

// =============================================================================
// Outcome handling
// =============================================================================

// handleOutcome applies an Outcome in order: response, outgoing envelopes,
// artifacts, memory, clarification and milestone requests, phase report,
// then sign-off changes.
func (e *AgentExecutor) handleOutcome(ctx context.Context, env *envelope.Envelope, out *Outcome) {
	role := string(e.role)
	self := envelope.To(e.role)

	if out.Response != nil {
		out.Response.Sender = self
		e.send(ctx, out.Response)
	}
	for _, o := range out.Outgoing {
		if o == nil {
			continue
		}
		o.Sender = self
		e.send(ctx, o)
	}

	e.storeArtifacts(ctx, env, out)

	if out.Decision != nil {
		e.memory.RecordDecision(*out.Decision)
	}
	if out.Concern != nil {
		e.memory.RecordConcern(*out.Concern)
	}
	if out.Learning != "" {
		e.memory.AddLearning(out.Learning)
	}

	clarificationID := ""
	if out.Clarification != nil && out.Clarification.Question != "" {
		req := envelope.New(self, envelope.AddressHuman, envelope.KindClarificationRequest,
			"Clarification needed",
			envelope.WithContent(out.Clarification.Question),
			envelope.WithIntent(env.Intent),
			envelope.WithPriority(envelope.PriorityHigh),
			envelope.WithThread(threadOf(env)),
			envelope.WithResponseRequired(),
			envelope.WithPayload(map[string]any{"context": out.Clarification.Context}),
		)
		e.send(ctx, req)
		if e.coordinator != nil {
			e.coordinator.RequestClarification(e.role, req)
		}
		clarificationID = req.ID
	}
	if out.FollowUp != nil && out.FollowUp.Subject != "" {
		e.scheduleFollowUp(env, out, clarificationID)
	}
	if out.Milestone != nil && out.Milestone.Name != "" && e.coordinator != nil {
		e.coordinator.RequestMilestone(e.role, *out.Milestone)
	}
	if out.Phase != "" && e.coordinator != nil {
		e.coordinator.ReportPhase(e.role, out.Phase)
	}

	for _, b := range out.ClearBlockers {
		e.state.ClearBlocker(b)
	}
	if out.RevokeSignOff != "" {
		e.state.RevokeSignOff(out.RevokeSignOff)
		e.logger.Info("signoff_revoked", "role", role, "reason", out.RevokeSignOff)
	}
	if out.SignOff {
		if err := e.state.SignOff(); err != nil {
			e.logger.Warn("signoff_rejected", "role", role, "error", err.Error())
		} else {
			e.logger.Info("signed_off", "role", role)
		}
	}
	observability.SetSignedOff(role, e.state.SignedOff())
}

// scheduleFollowUp queues a self-addressed request that is held back until
// the awaited requests of this outcome are answered. Requests that failed to
// send, or were answered already, are not awaited.
func (e *AgentExecutor) scheduleFollowUp(env *envelope.Envelope, out *Outcome, clarificationID string) {
	f := out.FollowUp
	var awaiting []string
	for _, i := range f.AwaitOutgoing {
		if i < 0 || i >= len(out.Outgoing) || out.Outgoing[i] == nil {
			continue
		}
		if id := out.Outgoing[i].ID; e.mailbox.IsOutstanding(id) {
			awaiting = append(awaiting, id)
		}
	}
	if f.AwaitClarification && clarificationID != "" && e.mailbox.IsOutstanding(clarificationID) {
		awaiting = append(awaiting, clarificationID)
	}

	self := envelope.To(e.role)
	task := envelope.New(self, self, envelope.KindRequest, f.Subject,
		envelope.WithContent(f.Content),
		envelope.WithIntent(env.Intent),
		envelope.WithThread(threadOf(env)),
		envelope.AwaitingResponseTo(awaiting...),
	)
	e.mailbox.Enqueue(task)
	e.logger.Debug("follow_up_scheduled",
		"role", string(e.role),
		"envelope_id", task.ID,
		"awaiting", len(awaiting),
	)
}

// send marks env in the outbox before routing it so a fast reply always
// finds its entry.
func (e *AgentExecutor) send(ctx context.Context, env *envelope.Envelope) {
	e.mailbox.MarkSent(env)
	if err := e.router.Send(ctx, env); err != nil {
		e.mailbox.CancelSent(env.ID)
		e.logger.Warn("envelope_send_failed",
			"role", string(e.role),
			"envelope_id", env.ID,
			"recipient", string(env.Recipient),
			"error", err.Error(),
		)
	}
}

func (e *AgentExecutor) storeArtifacts(ctx context.Context, env *envelope.Envelope, out *Outcome) {
	if e.artifacts == nil {
		return
	}
	projectID := ""
	if e.project != nil {
		projectID = e.project.ID()
	}
	for _, a := range out.ArtifactsCreated {
		a = e.stamp(a, projectID)
		if err := e.artifacts.Create(ctx, a); err != nil {
			e.logger.Error("artifact_create_failed", "role", string(e.role), "artifact", a.Name,
				"envelope_id", env.ID, "error", err.Error())
		}
	}
	for _, a := range out.ArtifactsUpdated {
		a = e.stamp(a, projectID)
		if err := e.artifacts.Update(ctx, a); err != nil {
			e.logger.Error("artifact_update_failed", "role", string(e.role), "artifact", a.Name,
				"envelope_id", env.ID, "error", err.Error())
		}
	}
}

func (e *AgentExecutor) stamp(a Artifact, projectID string) Artifact {
	if a.Owner == "" {
		a.Owner = e.role
	}
	if a.ProjectID == "" {
		a.ProjectID = projectID
	}
	return a
}

func threadOf(env *envelope.Envelope) string {
	if env.ThreadID != "" {
		return env.ThreadID
	}
	return env.ID
}
