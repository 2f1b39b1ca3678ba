package kernel

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MilestoneStatus is the review state of a milestone.
type MilestoneStatus string

const (
	MilestonePending  MilestoneStatus = "pending"
	MilestoneApproved MilestoneStatus = "approved"
	MilestoneRejected MilestoneStatus = "rejected"
)

// Milestone is a checkpoint the human operator approves or rejects.
type Milestone struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Status      MilestoneStatus `json:"status"`
	Feedback    string          `json:"feedback,omitempty"`
	RequestedBy string          `json:"requested_by,omitempty"`
	DecidedAt   *time.Time      `json:"decided_at,omitempty"`
}

// ProjectRecord is a copy of the project for snapshots and dashboards.
type ProjectRecord struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Idea          string       `json:"idea"`
	State         ProjectState `json:"state"`
	PreviousState ProjectState `json:"previous_state,omitempty"`
	Paused        bool         `json:"paused"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Milestones    []Milestone  `json:"milestones"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	DeliveredAt   *time.Time   `json:"delivered_at,omitempty"`
}

// Project is the project-level state owned by the orchestrator.
// Thread-safe.
type Project struct {
	id            string
	name          string
	idea          string
	state         ProjectState
	previous      ProjectState
	paused        bool
	failureReason string
	milestones    []Milestone
	createdAt     time.Time
	updatedAt     time.Time
	deliveredAt   *time.Time
	mu            sync.RWMutex
}

// NewProject creates a project in the created state.
func NewProject(name, idea string) *Project {
	now := time.Now().UTC()
	return &Project{
		id:        "prj_" + uuid.New().String()[:16],
		name:      name,
		idea:      idea,
		state:     ProjectCreated,
		createdAt: now,
		updatedAt: now,
	}
}

// ID returns the project id.
func (p *Project) ID() string { return p.id }

// Name returns the project name.
func (p *Project) Name() string { return p.name }

// Idea returns the product idea that seeded the run.
func (p *Project) Idea() string { return p.idea }

// State returns the current phase.
func (p *Project) State() ProjectState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Transition moves to a new working phase. While awaiting input the target
// becomes the phase to resume into.
func (p *Project) Transition(to ProjectState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := p.state
	if from == ProjectAwaitingInput {
		from = p.previous
	}
	if from == to {
		return nil
	}
	if !IsValidPhaseTransition(from, to) {
		return fmt.Errorf("invalid project transition %s -> %s", from, to)
	}
	if p.state == ProjectAwaitingInput {
		p.previous = to
	} else {
		p.state = to
	}
	p.updatedAt = time.Now().UTC()
	return nil
}

// EnterAwaitingInput records the current phase and switches to awaiting_input.
// Returns false if already awaiting input or terminal.
func (p *Project) EnterAwaitingInput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProjectAwaitingInput || p.state.IsTerminal() {
		return false
	}
	p.previous = p.state
	p.state = ProjectAwaitingInput
	p.updatedAt = time.Now().UTC()
	return true
}

// ResumeFromAwaitingInput returns to the phase interrupted by a clarification.
func (p *Project) ResumeFromAwaitingInput() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ProjectAwaitingInput {
		return false
	}
	p.state = p.previous
	p.previous = ""
	p.updatedAt = time.Now().UTC()
	return true
}

// MarkDelivered moves the project to its terminal delivered state.
func (p *Project) MarkDelivered() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	p.previous = ""
	p.state = ProjectDelivered
	p.deliveredAt = &now
	p.updatedAt = now
	return true
}

// MarkFailed moves the project to failed with reason.
func (p *Project) MarkFailed(reason string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.IsTerminal() {
		return false
	}
	p.state = ProjectFailed
	p.failureReason = reason
	p.updatedAt = time.Now().UTC()
	return true
}

// SetPaused toggles the paused overlay.
func (p *Project) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = paused
	p.updatedAt = time.Now().UTC()
}

// AddMilestone records a pending milestone.
func (p *Project) AddMilestone(m MilestoneRequest, requestedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.milestones = append(p.milestones, Milestone{
		Name:        m.Name,
		Description: m.Description,
		Status:      MilestonePending,
		RequestedBy: requestedBy,
	})
	p.updatedAt = time.Now().UTC()
}

// ResolveMilestone applies the operator's decision to the latest pending
// milestone with that name.
func (p *Project) ResolveMilestone(name string, d MilestoneDecision) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.milestones) - 1; i >= 0; i-- {
		m := &p.milestones[i]
		if m.Name != name || m.Status != MilestonePending {
			continue
		}
		now := time.Now().UTC()
		m.Status = MilestoneRejected
		if d.Approved {
			m.Status = MilestoneApproved
		}
		m.Feedback = d.Feedback
		m.DecidedAt = &now
		p.updatedAt = now
		return true
	}
	return false
}

// Record returns a copy of the project.
func (p *Project) Record() ProjectRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	milestones := make([]Milestone, len(p.milestones))
	copy(milestones, p.milestones)
	var delivered *time.Time
	if p.deliveredAt != nil {
		t := *p.deliveredAt
		delivered = &t
	}
	return ProjectRecord{
		ID:            p.id,
		Name:          p.name,
		Idea:          p.idea,
		State:         p.state,
		PreviousState: p.previous,
		Paused:        p.paused,
		FailureReason: p.failureReason,
		Milestones:    milestones,
		CreatedAt:     p.createdAt,
		UpdatedAt:     p.updatedAt,
		DeliveredAt:   delivered,
	}
}
