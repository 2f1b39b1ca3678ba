package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chuan-gyld/ai-firm/commbus"
	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/observability"
)

// Orchestrator errors.
var (
	ErrCommandQueueFull = errors.New("command queue full")
	ErrStopTimeout      = errors.New("orchestrator stop timed out")
	ErrAlreadyStarted   = errors.New("orchestrator already started")
)

// =============================================================================
// Configuration
// =============================================================================

// OrchestratorConfig holds the cadence of the orchestrator's duties.
type OrchestratorConfig struct {
	Executor              ExecutorConfig
	StatusInterval        time.Duration
	ClarificationInterval time.Duration
	ConvergenceInterval   time.Duration
	StopTimeout           time.Duration
	CommandBuffer         int
	ActivityLimit         int

	// ClarificationRetention is how long answered clarifications are kept.
	ClarificationRetention time.Duration
	// CallLimit bounds reasoner calls per role. Zero disables limiting.
	CallLimit CallLimitConfig
}

// DefaultOrchestratorConfig returns production defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Executor:               DefaultExecutorConfig(),
		StatusInterval:         5 * time.Second,
		ClarificationInterval:  500 * time.Millisecond,
		ConvergenceInterval:    time.Second,
		StopTimeout:            10 * time.Second,
		CommandBuffer:          64,
		ActivityLimit:          commbus.DefaultActivityLimit,
		ClarificationRetention: time.Hour,
		CallLimit:              DefaultCallLimitConfig(),
	}
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	def := DefaultOrchestratorConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.ClarificationInterval <= 0 {
		c.ClarificationInterval = def.ClarificationInterval
	}
	if c.ConvergenceInterval <= 0 {
		c.ConvergenceInterval = def.ConvergenceInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = def.StopTimeout
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = def.CommandBuffer
	}
	if c.ActivityLimit <= 0 {
		c.ActivityLimit = def.ActivityLimit
	}
	if c.ClarificationRetention <= 0 {
		c.ClarificationRetention = def.ClarificationRetention
	}
	return c
}

// OrchestratorDeps are the collaborators of an Orchestrator. Router and one
// Reasoner per registered role are required.
type OrchestratorDeps struct {
	Router      *commbus.MessageRouter
	Reasoners   map[envelope.Role]Reasoner
	Human       HumanBridge
	Persistence PersistenceHook
	Artifacts   ArtifactStore
	Clock       Clock
	Logger      Logger
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator owns one executor per registered role and runs the
// supervisory duties of a project: command relay, status refresh and
// snapshots, clarification round-trips and convergence detection.
//
// The orchestrator never mutates an AgentRuntimeState itself. Everything
// that changes an agent goes through a Command the executor applies to
// itself between iterations.
type Orchestrator struct {
	registry    *envelope.Registry
	router      *commbus.MessageRouter
	project     *Project
	human       HumanBridge
	persistence PersistenceHook
	clock       Clock
	logger      Logger
	cfg         OrchestratorConfig

	executors      map[envelope.Role]*AgentExecutor
	commands       chan Command
	clarifications *ClarificationQueue
	convergence    *ConvergenceMonitor
	stalled        map[string]bool

	started   bool
	cancel    context.CancelFunc
	stopCh    chan struct{}
	stopOnce  sync.Once
	finalOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// NewOrchestrator wires an executor and mailbox for every role in the
// router's registry and registers the mailboxes with the router.
func NewOrchestrator(project *Project, deps OrchestratorDeps, cfg OrchestratorConfig) (*Orchestrator, error) {
	if project == nil {
		return nil, errors.New("orchestrator requires a project")
	}
	if deps.Router == nil {
		return nil, errors.New("orchestrator requires a router")
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	cfg = cfg.withDefaults()

	o := &Orchestrator{
		registry:       deps.Router.Registry(),
		router:         deps.Router,
		project:        project,
		human:          deps.Human,
		persistence:    deps.Persistence,
		clock:          deps.Clock,
		logger:         deps.Logger,
		cfg:            cfg,
		executors:      make(map[envelope.Role]*AgentExecutor),
		commands:       make(chan Command, cfg.CommandBuffer),
		clarifications: NewClarificationQueue(deps.Logger),
		convergence:    NewConvergenceMonitor(),
		stalled:        make(map[string]bool),
		stopCh:         make(chan struct{}),
	}

	var limiter *CallLimiter
	if cfg.CallLimit.Enabled() {
		limiter = NewCallLimiter(cfg.CallLimit, o.clock)
	}

	roles := o.registry.Roles()
	for _, role := range roles {
		reasoner, ok := deps.Reasoners[role]
		if !ok || reasoner == nil {
			return nil, fmt.Errorf("no reasoner for role %s", role)
		}
		if limiter != nil {
			reasoner = LimitReasoner(reasoner, limiter)
		}
		mailbox := NewPriorityMailbox(role, WithMailboxLogger(o.logger))
		if err := o.router.Register(role, mailbox); err != nil {
			return nil, fmt.Errorf("register %s: %w", role, err)
		}
		o.executors[role] = NewAgentExecutor(role, ExecutorDeps{
			Reasoner:    reasoner,
			Mailbox:     mailbox,
			Router:      o.router,
			State:       NewAgentRuntimeState(role),
			Memory:      NewAgentMemory(0),
			Artifacts:   deps.Artifacts,
			Coordinator: o,
			Project:     project,
			Teammates:   teammates(roles, role),
			Clock:       o.clock,
			Logger:      o.logger,
		}, cfg.Executor)
	}
	return o, nil
}

func teammates(all []envelope.Role, self envelope.Role) []envelope.Role {
	out := make([]envelope.Role, 0, len(all)-1)
	for _, r := range all {
		if r != self {
			out = append(out, r)
		}
	}
	return out
}

// Project returns the project driven by this orchestrator.
func (o *Orchestrator) Project() *Project { return o.project }

// Registry returns the participating roles.
func (o *Orchestrator) Registry() *envelope.Registry { return o.registry }

// Executor returns the executor for role, or nil.
func (o *Orchestrator) Executor(role envelope.Role) *AgentExecutor { return o.executors[role] }

// Clarifications returns the clarification queue.
func (o *Orchestrator) Clarifications() *ClarificationQueue { return o.clarifications }

// Convergence returns the convergence monitor.
func (o *Orchestrator) Convergence() *ConvergenceMonitor { return o.convergence }

// =============================================================================
// Lifecycle
// =============================================================================

// Seed routes the initial request carrying the product idea to the first
// role of the pipeline.
func (o *Orchestrator) Seed(ctx context.Context) (*envelope.Envelope, error) {
	first := o.registry.First()
	env := envelope.New(envelope.AddressHuman, envelope.To(first), envelope.KindRequest,
		"New Product Idea",
		envelope.WithContent(o.project.Idea()),
		envelope.WithIntent(envelope.IntentRequirements),
		envelope.WithPriority(envelope.PriorityHigh),
		envelope.WithPayload(map[string]any{
			"project_id":   o.project.ID(),
			"project_name": o.project.Name(),
		}),
	)
	if err := o.router.Send(ctx, env); err != nil {
		return nil, fmt.Errorf("seed project: %w", err)
	}
	if err := o.project.Transition(ProjectDiscovery); err != nil {
		o.logger.Warn("phase_transition_rejected", "to", string(ProjectDiscovery), "error", err.Error())
	}
	o.logger.Info("project_seeded",
		"project_id", o.project.ID(),
		"recipient", string(first),
		"envelope_id", env.ID,
	)
	return env, nil
}

// Start seeds the project and launches every executor and duty. It returns
// immediately; use Wait or Stop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	if _, err := o.Seed(ctx); err != nil {
		return err
	}

	for _, role := range o.registry.Roles() {
		exec := o.executors[role]
		o.spawn("executor_"+string(role), func() { exec.Run(ctx) })
	}
	o.spawn("command_relay", func() { o.relayCommands(ctx) })
	o.spawn("status_refresh", func() {
		runEvery(ctx, o.clock, o.cfg.StatusInterval, o.stopCh, o.logger, "status_refresh",
			func(ctx context.Context) { _ = o.RefreshStatus(ctx) })
	})
	o.spawn("clarification_bridge", func() {
		// A bridge may block on the operator indefinitely; shutdown must
		// reach it even though the run context is still live.
		ctx, cancel := untilStopped(ctx, o.stopCh)
		defer cancel()
		runEvery(ctx, o.clock, o.cfg.ClarificationInterval, o.stopCh, o.logger, "clarification_bridge",
			func(ctx context.Context) { o.ServeClarification(ctx) })
	})
	o.spawn("convergence_monitor", func() {
		runEvery(ctx, o.clock, o.cfg.ConvergenceInterval, o.stopCh, o.logger, "convergence_monitor",
			func(ctx context.Context) { o.CheckConvergence(ctx) })
	})

	o.logger.Info("orchestrator_started",
		"project_id", o.project.ID(),
		"roles", o.registry.Len(),
	)
	return nil
}

func (o *Orchestrator) spawn(name string, fn func()) {
	o.wg.Add(1)
	SafeGo(o.logger, name, func() {
		defer o.wg.Done()
		fn()
	}, nil)
}

// Run starts the orchestrator and blocks until every loop has exited,
// either through convergence, a shutdown command or ctx cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Start(ctx); err != nil {
		return err
	}
	o.wg.Wait()
	o.finish(context.WithoutCancel(ctx))
	return nil
}

// Wait blocks until every loop has exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop shuts down every executor and duty and waits up to StopTimeout.
// After the timeout the run is treated as terminated regardless and
// ErrStopTimeout is returned.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.shutdownAll()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-o.clock.After(o.cfg.StopTimeout):
		err = ErrStopTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()

	if err != nil {
		o.logger.Warn("orchestrator_stop_incomplete", "error", err.Error())
	}
	o.finish(ctx)
	return err
}

// shutdownAll stops every executor and closes the duty loops.
func (o *Orchestrator) shutdownAll() {
	for _, role := range o.registry.Roles() {
		o.executors[role].Shutdown()
	}
	o.stopOnce.Do(func() {
		close(o.stopCh)
	})
}

// finish takes the final snapshot exactly once.
func (o *Orchestrator) finish(ctx context.Context) {
	o.finalOnce.Do(func() {
		_ = o.snapshot(ctx, "shutdown")
		o.logger.Info("orchestrator_stopped",
			"project_id", o.project.ID(),
			"state", string(o.project.State()),
		)
	})
}

// =============================================================================
// Commands
// =============================================================================

// SendCommand queues cmd. It is never applied synchronously; the command
// relay applies it between loop iterations.
func (o *Orchestrator) SendCommand(cmd Command) error {
	if err := cmd.Validate(o.registry); err != nil {
		return err
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = o.clock.Now().UTC()
	}
	select {
	case o.commands <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

func (o *Orchestrator) relayCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case cmd := <-o.commands:
			_ = SafeExecute(o.logger, "apply_command", func() error {
				o.applyCommand(cmd)
				return nil
			})
		}
	}
}

// ApplyPendingCommands drains the command queue without blocking and
// returns how many commands were applied.
func (o *Orchestrator) ApplyPendingCommands() int {
	n := 0
	for {
		select {
		case cmd := <-o.commands:
			o.applyCommand(cmd)
			n++
		default:
			return n
		}
	}
}

func (o *Orchestrator) applyCommand(cmd Command) {
	observability.RecordCommand(string(cmd.Kind))
	o.logger.Info("command_applied",
		"command", string(cmd.Kind),
		"target", targetName(cmd),
	)

	if cmd.Kind == CommandStatus {
		d := o.Dashboard()
		o.logger.Info("status_report",
			"project_id", d.Project.ID,
			"state", string(d.Project.State),
			"summary", d.Summary,
			"pending_clarifications", d.PendingClarifications,
		)
		for _, a := range d.Agents {
			o.logger.Info("agent_status",
				"role", string(a.Role),
				"status", string(a.Status),
				"inbox", a.InboxCount,
				"outbox", a.OutboxCount,
				"signed_off", a.SignedOff,
			)
		}
		return
	}

	for _, exec := range o.targets(cmd) {
		exec.Deliver(cmd)
		if cmd.Kind == CommandShutdown {
			// Wakes a sleeping loop; the delivered command is applied first.
			exec.Shutdown()
		}
	}

	if !cmd.IsGlobal() {
		return
	}
	switch cmd.Kind {
	case CommandPause:
		o.project.SetPaused(true)
	case CommandResume:
		o.project.SetPaused(false)
	case CommandShutdown:
		o.stopOnce.Do(func() {
			close(o.stopCh)
		})
	}
}

func (o *Orchestrator) targets(cmd Command) []*AgentExecutor {
	if !cmd.IsGlobal() {
		if exec, ok := o.executors[cmd.Target]; ok {
			return []*AgentExecutor{exec}
		}
		return nil
	}
	out := make([]*AgentExecutor, 0, len(o.executors))
	for _, role := range o.registry.Roles() {
		out = append(out, o.executors[role])
	}
	return out
}

func targetName(cmd Command) string {
	if cmd.IsGlobal() {
		return "all"
	}
	return string(cmd.Target)
}

// =============================================================================
// Status
// =============================================================================

// AgentSnapshots returns one snapshot per role in pipeline order.
func (o *Orchestrator) AgentSnapshots() []AgentSnapshot {
	roles := o.registry.Roles()
	out := make([]AgentSnapshot, 0, len(roles))
	for _, role := range roles {
		out = append(out, o.executors[role].State().Snapshot())
	}
	return out
}

// RefreshStatus copies mailbox counters into every runtime state and hands
// a snapshot to the persistence hook.
func (o *Orchestrator) RefreshStatus(ctx context.Context) error {
	for _, role := range o.registry.Roles() {
		o.executors[role].RefreshCounters()
	}
	if n := o.clarifications.CleanupResolved(o.cfg.ClarificationRetention); n > 0 {
		o.logger.Debug("clarifications_pruned", "count", n)
	}
	return o.snapshot(ctx, "periodic")
}

func (o *Orchestrator) snapshot(ctx context.Context, reason string) error {
	if o.persistence == nil {
		return nil
	}
	snap := ProjectSnapshot{
		Project:  o.project.Record(),
		Agents:   o.AgentSnapshots(),
		Activity: o.router.RecentActivity(o.cfg.ActivityLimit),
		Reason:   reason,
	}
	err := SafeExecute(o.logger, "snapshot", func() error {
		return o.persistence.Snapshot(ctx, snap)
	})
	if err != nil {
		observability.RecordSnapshot("error")
		o.logger.Error("snapshot_failed",
			"project_id", snap.Project.ID,
			"reason", reason,
			"error", err.Error(),
		)
		return err
	}
	observability.RecordSnapshot("success")
	return nil
}

// Dashboard is a point-in-time overview of the run.
type Dashboard struct {
	Project               ProjectRecord        `json:"project"`
	Agents                []AgentSnapshot      `json:"agents"`
	Summary               string               `json:"summary"`
	Converged             bool                 `json:"converged"`
	PendingClarifications int                  `json:"pending_clarifications"`
	Activity              []*envelope.Envelope `json:"activity"`
}

// Dashboard returns the current overview.
func (o *Orchestrator) Dashboard() Dashboard {
	agents := o.AgentSnapshots()
	signed := 0
	for _, a := range agents {
		if a.SignedOff {
			signed++
		}
	}
	return Dashboard{
		Project:               o.project.Record(),
		Agents:                agents,
		Summary:               fmt.Sprintf("%d/%d agents signed off", signed, len(agents)),
		Converged:             o.convergence.Converged(),
		PendingClarifications: o.clarifications.PendingCount(),
		Activity:              o.router.RecentActivity(o.cfg.ActivityLimit),
	}
}

// =============================================================================
// Clarification
// =============================================================================

// RequestClarification queues a question for the human operator.
func (o *Orchestrator) RequestClarification(role envelope.Role, req *envelope.Envelope) {
	o.clarifications.AddQuestion(role, req)
	observability.RecordClarification("requested")
}

// RequestMilestone records a milestone and queues it for review.
func (o *Orchestrator) RequestMilestone(role envelope.Role, m MilestoneRequest) {
	o.project.AddMilestone(m, string(role))
	o.clarifications.AddMilestone(role, m)
	o.logger.Info("milestone_requested", "role", string(role), "milestone", m.Name)
}

// ReportPhase moves the project to phase if the transition is allowed.
func (o *Orchestrator) ReportPhase(role envelope.Role, phase ProjectState) {
	if err := o.project.Transition(phase); err != nil {
		o.logger.Warn("phase_transition_rejected",
			"role", string(role),
			"to", string(phase),
			"error", err.Error(),
		)
		return
	}
	o.logger.Info("phase_changed", "role", string(role), "state", string(phase))
}

// ServeClarification resolves the oldest pending clarification or milestone
// through the human bridge. It blocks for as long as the bridge does and
// returns false when there was nothing to serve.
func (o *Orchestrator) ServeClarification(ctx context.Context) bool {
	item := o.clarifications.Next()
	if item == nil {
		return false
	}
	if o.human == nil {
		o.mu.Lock()
		first := !o.stalled[item.ID]
		o.stalled[item.ID] = true
		o.mu.Unlock()
		if first {
			o.logger.Warn("clarification_stalled", "clarification_id", item.ID, "reason", "no human bridge")
		}
		return false
	}

	entered := o.project.EnterAwaitingInput()
	defer func() {
		if entered {
			o.project.ResumeFromAwaitingInput()
		}
	}()

	switch item.Kind {
	case ClarificationQuestion:
		o.serveQuestion(ctx, item)
	case ClarificationMilestone:
		o.serveMilestone(ctx, item)
	}
	return true
}

func (o *Orchestrator) serveQuestion(ctx context.Context, item *PendingClarification) {
	answer, err := o.human.AwaitClarification(ctx, item.Request)
	if err != nil && ctx.Err() != nil {
		o.abandon(item, err)
		return
	}
	payload := map[string]any{"clarification_id": item.ID}
	if err != nil {
		o.clarifications.Cancel(item.ID)
		observability.RecordClarification("failed")
		o.logger.Error("clarification_failed",
			"clarification_id", item.ID,
			"role", string(item.Role),
			"error", err.Error(),
		)
		payload["unanswered"] = true
		answer = "No answer was available: " + err.Error()
	} else {
		o.clarifications.ResolveQuestion(item.ID, answer)
		observability.RecordClarification("answered")
	}

	resp := envelope.CreateResponse(item.Request, envelope.AddressHuman, answer,
		envelope.WithKind(envelope.KindClarificationResponse),
		envelope.WithPayload(payload),
	)
	if err := o.router.Send(ctx, resp); err != nil {
		o.logger.Error("clarification_response_undeliverable",
			"clarification_id", item.ID,
			"role", string(item.Role),
			"error", err.Error(),
		)
	}
}

func (o *Orchestrator) serveMilestone(ctx context.Context, item *PendingClarification) {
	m := *item.Milestone
	decision, err := o.human.AwaitMilestoneDecision(ctx, m.Name, m.Description)
	if err != nil && ctx.Err() != nil {
		o.abandon(item, err)
		return
	}
	if err != nil {
		o.clarifications.Cancel(item.ID)
		o.logger.Error("milestone_review_failed", "milestone", m.Name, "error", err.Error())
		return
	}
	o.clarifications.ResolveMilestone(item.ID, decision)
	o.project.ResolveMilestone(m.Name, decision)

	content := fmt.Sprintf("Milestone %s approved", m.Name)
	if !decision.Approved {
		content = fmt.Sprintf("Milestone %s rejected", m.Name)
	}
	if decision.Feedback != "" {
		content += ": " + decision.Feedback
	}
	o.logger.Info("milestone_decided", "milestone", m.Name, "approved", decision.Approved)

	note := envelope.New(envelope.AddressHuman, envelope.AddressBroadcast, envelope.KindFeedback,
		"Milestone review: "+m.Name,
		envelope.WithContent(content),
		envelope.WithIntent(envelope.IntentMilestone),
		envelope.WithPriority(envelope.PriorityHigh),
	)
	if err := o.router.Send(ctx, note); err != nil {
		o.logger.Warn("milestone_feedback_undeliverable", "milestone", m.Name, "error", err.Error())
	}

	if !decision.Approved {
		o.applyCommand(Command{
			Kind:     CommandRevokeSignOff,
			Text:     content,
			IssuedAt: o.clock.Now().UTC(),
		})
	}
}

// abandon leaves item pending when the wait ended because the run is
// stopping; it stays visible in the final snapshot.
func (o *Orchestrator) abandon(item *PendingClarification, err error) {
	o.logger.Info("clarification_abandoned",
		"clarification_id", item.ID,
		"role", string(item.Role),
		"reason", err.Error(),
	)
}

// =============================================================================
// Convergence
// =============================================================================

// CheckConvergence polls every role's sign-off. On the transition to
// converged it marks the project delivered, takes a snapshot and queues a
// global shutdown.
func (o *Orchestrator) CheckConvergence(ctx context.Context) bool {
	was := o.convergence.Converged()
	converged := o.convergence.Poll(o.AgentSnapshots())
	if !converged {
		if was {
			o.logger.Info("convergence_lost", "summary", o.convergence.Summary())
		}
		return false
	}
	if was {
		return true
	}

	observability.RecordConvergence()
	o.logger.Info("convergence_detected",
		"project_id", o.project.ID(),
		"summary", o.convergence.Summary(),
	)
	if o.project.MarkDelivered() {
		_ = o.snapshot(ctx, "delivered")
	}
	if err := o.SendCommand(Shutdown()); err != nil {
		o.logger.Warn("shutdown_command_failed", "error", err.Error())
		o.shutdownAll()
	}
	return true
}
