// Package testutil provides shared test utilities and mocks.
//
// All mocks in this package are designed for testing the coreengine components
// in isolation without requiring external dependencies. They satisfy the
// kernel ports structurally and are safe for concurrent use.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
	"github.com/chuan-gyld/ai-firm/coreengine/kernel"
)

// =============================================================================
// FAKE CLOCK
// =============================================================================

type waiter struct {
	at time.Time
	ch chan time.Time
}

// FakeClock is a manually advanced kernel.Clock. After channels fire only
// when Advance moves the clock past their deadline.
type FakeClock struct {
	now     time.Time
	waiters []*waiter
	mu      sync.Mutex
}

// NewFakeClock creates a clock frozen at start. A zero start uses a fixed
// reference time.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	}
	return &FakeClock{now: start}
}

// Now returns the frozen time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that fires once the clock reaches now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, &waiter{at: c.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward and fires every due waiter.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.at.After(c.now) {
			w.ch <- c.now
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
}

// Waiters returns the number of pending After calls.
func (c *FakeClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// =============================================================================
// MOCK REASONER
// =============================================================================

// MockReasoner implements kernel.Reasoner for testing.
// ProcessFunc wins over Outcome/Error when set.
type MockReasoner struct {
	// Outcome is returned for every call when ProcessFunc is nil.
	Outcome *kernel.Outcome

	// Error causes Process to fail.
	Error error

	// Panic causes Process to panic with this value.
	Panic any

	// ProcessFunc allows custom processing logic.
	ProcessFunc func(context.Context, *envelope.Envelope, kernel.RoleContext) (*kernel.Outcome, error)

	calls    []*envelope.Envelope
	contexts []kernel.RoleContext
	mu       sync.Mutex
}

// NewMockReasoner creates a reasoner that returns an empty Outcome.
func NewMockReasoner() *MockReasoner {
	return &MockReasoner{}
}

// Process implements kernel.Reasoner.
func (m *MockReasoner) Process(ctx context.Context, env *envelope.Envelope, rc kernel.RoleContext) (*kernel.Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, env.Clone())
	m.contexts = append(m.contexts, rc)
	fn := m.ProcessFunc
	outcome, err, p := m.Outcome, m.Error, m.Panic
	m.mu.Unlock()

	if p != nil {
		panic(p)
	}
	if fn != nil {
		return fn(ctx, env, rc)
	}
	if err != nil {
		return nil, err
	}
	if outcome == nil {
		return &kernel.Outcome{}, nil
	}
	return outcome, nil
}

// WithOutcome sets the outcome returned for every call.
func (m *MockReasoner) WithOutcome(o *kernel.Outcome) *MockReasoner {
	m.Outcome = o
	return m
}

// WithError configures the mock to fail.
func (m *MockReasoner) WithError(err error) *MockReasoner {
	m.Error = err
	return m
}

// CallCount returns the number of Process calls (thread-safe).
func (m *MockReasoner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns copies of the envelopes received, in order.
func (m *MockReasoner) Calls() []*envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*envelope.Envelope, len(m.calls))
	copy(out, m.calls)
	return out
}

// Contexts returns the role contexts received, in order.
func (m *MockReasoner) Contexts() []kernel.RoleContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]kernel.RoleContext, len(m.contexts))
	copy(out, m.contexts)
	return out
}

// Subjects returns the subject of every received envelope, in order.
func (m *MockReasoner) Subjects() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Subject
	}
	return out
}

// =============================================================================
// MOCK HUMAN BRIDGE
// =============================================================================

// MockHumanBridge implements kernel.HumanBridge for testing.
type MockHumanBridge struct {
	// Answer is returned by AwaitClarification.
	Answer string

	// Decision is returned by AwaitMilestoneDecision.
	Decision kernel.MilestoneDecision

	// Error causes both calls to fail.
	Error error

	// Gate, when set, blocks each call until a value is received or ctx ends.
	Gate chan struct{}

	questions  []*envelope.Envelope
	milestones []string
	mu         sync.Mutex
}

// NewMockHumanBridge creates a bridge that answers with answer and approves
// every milestone.
func NewMockHumanBridge(answer string) *MockHumanBridge {
	return &MockHumanBridge{
		Answer:   answer,
		Decision: kernel.MilestoneDecision{Approved: true},
	}
}

func (m *MockHumanBridge) wait(ctx context.Context) error {
	if m.Gate == nil {
		return nil
	}
	select {
	case <-m.Gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitClarification implements kernel.HumanBridge.
func (m *MockHumanBridge) AwaitClarification(ctx context.Context, req *envelope.Envelope) (string, error) {
	m.mu.Lock()
	m.questions = append(m.questions, req.Clone())
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.Error != nil {
		return "", m.Error
	}
	return m.Answer, nil
}

// AwaitMilestoneDecision implements kernel.HumanBridge.
func (m *MockHumanBridge) AwaitMilestoneDecision(ctx context.Context, name, description string) (kernel.MilestoneDecision, error) {
	m.mu.Lock()
	m.milestones = append(m.milestones, name)
	m.mu.Unlock()
	if err := m.wait(ctx); err != nil {
		return kernel.MilestoneDecision{}, err
	}
	if m.Error != nil {
		return kernel.MilestoneDecision{}, m.Error
	}
	return m.Decision, nil
}

// Questions returns the clarification requests seen so far.
func (m *MockHumanBridge) Questions() []*envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*envelope.Envelope, len(m.questions))
	copy(out, m.questions)
	return out
}

// Milestones returns the milestone names reviewed so far.
func (m *MockHumanBridge) Milestones() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.milestones))
	copy(out, m.milestones)
	return out
}

// =============================================================================
// RECORDING ARTIFACT STORE
// =============================================================================

// RecordingArtifactStore implements kernel.ArtifactStore in memory.
type RecordingArtifactStore struct {
	// Error causes every call to fail after recording it.
	Error error

	created []kernel.Artifact
	updated []kernel.Artifact
	mu      sync.Mutex
}

// NewRecordingArtifactStore creates an empty store.
func NewRecordingArtifactStore() *RecordingArtifactStore {
	return &RecordingArtifactStore{}
}

// Create implements kernel.ArtifactStore.
func (s *RecordingArtifactStore) Create(ctx context.Context, a kernel.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, a)
	return s.Error
}

// Update implements kernel.ArtifactStore.
func (s *RecordingArtifactStore) Update(ctx context.Context, a kernel.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, a)
	return s.Error
}

// Created returns the artifacts passed to Create.
func (s *RecordingArtifactStore) Created() []kernel.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kernel.Artifact, len(s.created))
	copy(out, s.created)
	return out
}

// Updated returns the artifacts passed to Update.
func (s *RecordingArtifactStore) Updated() []kernel.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kernel.Artifact, len(s.updated))
	copy(out, s.updated)
	return out
}

// =============================================================================
// RECORDING PERSISTENCE
// =============================================================================

// RecordingPersistence implements kernel.PersistenceHook in memory.
type RecordingPersistence struct {
	// Error causes Snapshot to fail after recording the call.
	Error error

	snapshots []kernel.ProjectSnapshot
	mu        sync.Mutex
}

// NewRecordingPersistence creates an empty hook.
func NewRecordingPersistence() *RecordingPersistence {
	return &RecordingPersistence{}
}

// Snapshot implements kernel.PersistenceHook.
func (p *RecordingPersistence) Snapshot(ctx context.Context, snap kernel.ProjectSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snap)
	return p.Error
}

// Count returns the number of snapshots taken.
func (p *RecordingPersistence) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.snapshots)
}

// Reasons returns the reason of every snapshot, in order.
func (p *RecordingPersistence) Reasons() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.snapshots))
	for i, s := range p.snapshots {
		out[i] = s.Reason
	}
	return out
}

// Last returns the most recent snapshot.
func (p *RecordingPersistence) Last() (kernel.ProjectSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snapshots) == 0 {
		return kernel.ProjectSnapshot{}, false
	}
	return p.snapshots[len(p.snapshots)-1], true
}

// =============================================================================
// MOCK LLM PROVIDER
// =============================================================================

// MockLLMProvider implements agents.LLMProvider for testing.
// Configure responses by system prompt prefix or use DefaultResponse.
type MockLLMProvider struct {
	// Responses maps system prompt prefixes to responses.
	// The longest matching prefix wins.
	Responses map[string]string

	// DefaultResponse is returned when no prefix matches.
	DefaultResponse string

	// Error causes Generate to return this error.
	Error error

	// GenerateFunc allows custom generation logic.
	GenerateFunc func(ctx context.Context, system, prompt string) (string, error)

	calls []LLMCall
	mu    sync.Mutex
}

// LLMCall records a single LLM call for assertion.
type LLMCall struct {
	System string
	Prompt string
}

// NewMockLLMProvider creates a MockLLMProvider whose default response is an
// empty outcome document.
func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{
		Responses:       make(map[string]string),
		DefaultResponse: `{"response": "ack"}`,
	}
}

// Name implements agents.LLMProvider.
func (m *MockLLMProvider) Name() string { return "mock" }

// Generate implements agents.LLMProvider.
func (m *MockLLMProvider) Generate(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, LLMCall{System: system, Prompt: prompt})
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, system, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.Error != nil {
		return "", m.Error
	}

	prefixes := make([]string, 0, len(m.Responses))
	for p := range m.Responses {
		prefixes = append(prefixes, p)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })
	for _, p := range prefixes {
		if strings.HasPrefix(system, p) {
			return m.Responses[p], nil
		}
	}
	return m.DefaultResponse, nil
}

// WithResponse adds a prefix-based response.
func (m *MockLLMProvider) WithResponse(prefix, response string) *MockLLMProvider {
	m.Responses[prefix] = response
	return m
}

// WithError configures the mock to return an error.
func (m *MockLLMProvider) WithError(err error) *MockLLMProvider {
	m.Error = err
	return m
}

// CallCount returns the number of calls (thread-safe).
func (m *MockLLMProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the recorded calls.
func (m *MockLLMProvider) Calls() []LLMCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LLMCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// =============================================================================
// LOGGERS
// =============================================================================

// NoopLogger discards everything.
type NoopLogger struct{}

// NewNoopLogger creates a logger that discards everything.
func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// LogEntry is one captured log call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// RecordingLogger captures log calls for assertion.
type RecordingLogger struct {
	entries []LogEntry
	mu      sync.Mutex
}

// NewRecordingLogger creates an empty recording logger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{}
}

func (l *RecordingLogger) record(level, msg string, kv []any) {
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 < len(kv) {
			fields[key] = kv[i+1]
		} else {
			fields[key] = nil
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func (l *RecordingLogger) Debug(msg string, kv ...any) { l.record("debug", msg, kv) }
func (l *RecordingLogger) Info(msg string, kv ...any)  { l.record("info", msg, kv) }
func (l *RecordingLogger) Warn(msg string, kv ...any)  { l.record("warn", msg, kv) }
func (l *RecordingLogger) Error(msg string, kv ...any) { l.record("error", msg, kv) }

// Entries returns every captured entry.
func (l *RecordingLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Has reports whether msg was logged at any level.
func (l *RecordingLogger) Has(msg string) bool {
	for _, e := range l.Entries() {
		if e.Msg == msg {
			return true
		}
	}
	return false
}

// Messages returns every captured message, in order.
func (l *RecordingLogger) Messages() []string {
	entries := l.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Msg
	}
	return out
}

// =============================================================================
// ENVELOPE HELPERS
// =============================================================================

// NewRequest builds a request from the human to role.
func NewRequest(role envelope.Role, subject string, opts ...envelope.Option) *envelope.Envelope {
	return envelope.New(envelope.AddressHuman, envelope.To(role), envelope.KindRequest, subject, opts...)
}

// NewTask builds a request between two roles.
func NewTask(from, to envelope.Role, subject string, opts ...envelope.Option) *envelope.Envelope {
	return envelope.New(envelope.To(from), envelope.To(to), envelope.KindRequest, subject, opts...)
}
