package kernel

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// ErrSignOffBlocked is matched by SignOffBlockedError.
var ErrSignOffBlocked = errors.New("sign-off blocked")

// SignOffBlockedError is returned when a role tries to sign off while
// blockers are open. The state is left unchanged.
type SignOffBlockedError struct {
	Role     envelope.Role
	Blockers []string
}

func (e *SignOffBlockedError) Error() string {
	return fmt.Sprintf("%s cannot sign off: %d open blocker(s): %s",
		e.Role, len(e.Blockers), strings.Join(e.Blockers, "; "))
}

func (e *SignOffBlockedError) Is(target error) bool {
	return target == ErrSignOffBlocked
}

// AgentSnapshot is a read-only copy of an AgentRuntimeState.
type AgentSnapshot struct {
	Role           envelope.Role `json:"role"`
	Status         AgentStatus   `json:"status"`
	WaitingReason  string        `json:"waiting_reason,omitempty"`
	CurrentTaskID  string        `json:"current_task_id,omitempty"`
	CurrentTask    string        `json:"current_task,omitempty"`
	InboxCount     int           `json:"inbox_count"`
	OutboxCount    int           `json:"outbox_count"`
	BacklogCount   int           `json:"backlog_count"`
	TasksCompleted int           `json:"tasks_completed"`
	SignedOff      bool          `json:"signed_off"`
	Blockers       []string      `json:"signoff_blockers"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// AgentRuntimeState is the mutable status record of one role.
//
// Invariant: signedOff is true only while blockers is empty.
// Thread-safe; written by the owning executor, read by anyone via Snapshot.
type AgentRuntimeState struct {
	role           envelope.Role
	status         AgentStatus
	waitingReason  string
	currentTaskID  string
	currentTask    string
	counts         MailboxCounts
	tasksCompleted int
	signedOff      bool
	blockers       []string
	updatedAt      time.Time
	mu             sync.RWMutex
}

// NewAgentRuntimeState creates an idle, not signed-off state for role.
func NewAgentRuntimeState(role envelope.Role) *AgentRuntimeState {
	return &AgentRuntimeState{
		role:      role,
		status:    AgentStatusIdle,
		blockers:  make([]string, 0),
		updatedAt: time.Now().UTC(),
	}
}

// Role returns the role this state belongs to.
func (s *AgentRuntimeState) Role() envelope.Role {
	return s.role
}

func (s *AgentRuntimeState) touch() {
	s.updatedAt = time.Now().UTC()
}

// SetWorking records the envelope being processed.
func (s *AgentRuntimeState) SetWorking(taskID, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = AgentStatusWorking
	s.waitingReason = ""
	s.currentTaskID = taskID
	s.currentTask = summary
	s.touch()
}

// SetIdle clears the current task.
func (s *AgentRuntimeState) SetIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = AgentStatusIdle
	s.waitingReason = ""
	s.currentTaskID = ""
	s.currentTask = ""
	s.touch()
}

// SetWaiting marks the role as waiting for reason.
func (s *AgentRuntimeState) SetWaiting(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = AgentStatusWaiting
	s.waitingReason = reason
	s.touch()
}

// SetPaused marks the role as paused by an operator.
func (s *AgentRuntimeState) SetPaused() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = AgentStatusPaused
	s.waitingReason = "paused by operator"
	s.touch()
}

// UpdateCounts copies mailbox sizes into the state.
func (s *AgentRuntimeState) UpdateCounts(c MailboxCounts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts = c
	s.touch()
}

// IncrementCompleted bumps the completed-task counter.
func (s *AgentRuntimeState) IncrementCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasksCompleted++
	s.touch()
}

// SignOff declares the role's work complete. It fails without changing
// anything while blockers are open.
func (s *AgentRuntimeState) SignOff() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blockers) > 0 {
		blockers := make([]string, len(s.blockers))
		copy(blockers, s.blockers)
		return &SignOffBlockedError{Role: s.role, Blockers: blockers}
	}
	s.signedOff = true
	s.touch()
	return nil
}

// RevokeSignOff withdraws sign-off and appends reason as a blocker. Every
// revocation adds an entry, even when the reason repeats, so each one needs
// its own ClearBlocker.
func (s *AgentRuntimeState) RevokeSignOff(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = "sign-off revoked"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOff = false
	s.blockers = append(s.blockers, reason)
	s.touch()
}

// AddBlocker records a reason preventing sign-off and withdraws any
// existing sign-off. A reason already present is not added twice.
func (s *AgentRuntimeState) AddBlocker(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOff = false
	s.addBlockerLocked(reason)
	s.touch()
}

func (s *AgentRuntimeState) addBlockerLocked(reason string) {
	for _, b := range s.blockers {
		if b == reason {
			return
		}
	}
	s.blockers = append(s.blockers, reason)
}

// ClearBlocker removes one occurrence of reason. Returns false if it was
// not present.
func (s *AgentRuntimeState) ClearBlocker(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.blockers {
		if b == reason {
			s.blockers = append(s.blockers[:i], s.blockers[i+1:]...)
			s.touch()
			return true
		}
	}
	return false
}

// ClearBlockers removes every blocker.
func (s *AgentRuntimeState) ClearBlockers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockers = s.blockers[:0]
	s.touch()
}

// SignedOff reports the sign-off flag.
func (s *AgentRuntimeState) SignedOff() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signedOff
}

// Status returns the current status.
func (s *AgentRuntimeState) Status() AgentStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns a copy of the state.
func (s *AgentRuntimeState) Snapshot() AgentSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	blockers := make([]string, len(s.blockers))
	copy(blockers, s.blockers)
	return AgentSnapshot{
		Role:           s.role,
		Status:         s.status,
		WaitingReason:  s.waitingReason,
		CurrentTaskID:  s.currentTaskID,
		CurrentTask:    s.currentTask,
		InboxCount:     s.counts.Inbox,
		OutboxCount:    s.counts.Outbox,
		BacklogCount:   s.counts.Backlog,
		TasksCompleted: s.tasksCompleted,
		SignedOff:      s.signedOff,
		Blockers:       blockers,
		UpdatedAt:      s.updatedAt,
	}
}
