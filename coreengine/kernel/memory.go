package kernel

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Decision is a choice a role has committed to.
type Decision struct {
	Subject   string    `json:"subject"`
	Choice    string    `json:"choice"`
	Rationale string    `json:"rationale,omitempty"`
	MadeAt    time.Time `json:"made_at"`
}

// Concern is a risk a role has raised.
type Concern struct {
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	RaisedAt    time.Time `json:"raised_at"`
}

// Memory is the per-role working memory fed back into the role context.
type Memory interface {
	RecordDecision(d Decision)
	RecordConcern(c Concern)
	AddLearning(text string)
	AddGuidance(text string)
	Guidance() []string
	Summary() string
}

// AgentMemory is the in-process Memory implementation.
// Lists are bounded; the oldest entries are dropped first.
type AgentMemory struct {
	decisions []Decision
	concerns  []Concern
	learnings []string
	guidance  []string
	limit     int
	mu        sync.RWMutex
}

// NewAgentMemory creates a memory retaining up to limit entries per list.
func NewAgentMemory(limit int) *AgentMemory {
	if limit <= 0 {
		limit = 50
	}
	return &AgentMemory{limit: limit}
}

var _ Memory = (*AgentMemory)(nil)

func (m *AgentMemory) RecordDecision(d Decision) {
	if d.MadeAt.IsZero() {
		d.MadeAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = appendBounded(m.decisions, d, m.limit)
}

func (m *AgentMemory) RecordConcern(c Concern) {
	if c.RaisedAt.IsZero() {
		c.RaisedAt = time.Now().UTC()
	}
	if c.Severity == "" {
		c.Severity = SeverityMedium
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concerns = appendBounded(m.concerns, c, m.limit)
}

func (m *AgentMemory) AddLearning(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.learnings = appendBounded(m.learnings, text, m.limit)
}

// AddGuidance stores operator guidance injected through the command surface.
func (m *AgentMemory) AddGuidance(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guidance = appendBounded(m.guidance, text, m.limit)
}

func (m *AgentMemory) Guidance() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.guidance))
	copy(out, m.guidance)
	return out
}

// Decisions returns a copy of the recorded decisions.
func (m *AgentMemory) Decisions() []Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Decision, len(m.decisions))
	copy(out, m.decisions)
	return out
}

// Concerns returns a copy of the recorded concerns.
func (m *AgentMemory) Concerns() []Concern {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Concern, len(m.concerns))
	copy(out, m.concerns)
	return out
}

// Summary renders the most recent entries as plain text for prompts.
func (m *AgentMemory) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	if len(m.decisions) > 0 {
		b.WriteString("Decisions:\n")
		for _, d := range tail(m.decisions, 5) {
			fmt.Fprintf(&b, "- %s: %s", d.Subject, d.Choice)
			if d.Rationale != "" {
				fmt.Fprintf(&b, " (%s)", d.Rationale)
			}
			b.WriteString("\n")
		}
	}
	if len(m.concerns) > 0 {
		b.WriteString("Concerns:\n")
		for _, c := range tail(m.concerns, 5) {
			fmt.Fprintf(&b, "- [%s] %s\n", c.Severity, c.Description)
		}
	}
	if len(m.learnings) > 0 {
		b.WriteString("Learnings:\n")
		for _, l := range tail(m.learnings, 5) {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func appendBounded[T any](list []T, item T, limit int) []T {
	list = append(list, item)
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list
}

func tail[T any](list []T, n int) []T {
	if len(list) <= n {
		return list
	}
	return list[len(list)-n:]
}
