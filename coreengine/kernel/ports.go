package kernel

import (
	"context"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// =============================================================================
// Reasoning Port
// =============================================================================

// RoleContext is what a role knows when it processes an envelope.
type RoleContext struct {
	Role         envelope.Role   `json:"role"`
	ProjectID    string          `json:"project_id"`
	ProjectName  string          `json:"project_name"`
	Idea         string          `json:"idea"`
	ProjectState ProjectState    `json:"project_state"`
	Teammates    []envelope.Role `json:"teammates"`
	Memory       string          `json:"memory"`
	Guidance     []string        `json:"guidance,omitempty"`
	SignedOff    bool            `json:"signed_off"`
	Blockers     []string        `json:"blockers,omitempty"`
}

// ClarificationRequest asks the human operator a question.
type ClarificationRequest struct {
	Question string `json:"question"`
	Context  string `json:"context,omitempty"`
}

// MilestoneRequest asks the human operator to approve a milestone.
type MilestoneRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Outcome is the result of one role processing one envelope.
type Outcome struct {
	Response         *envelope.Envelope    `json:"response,omitempty"`
	Outgoing         []*envelope.Envelope  `json:"outgoing,omitempty"`
	ArtifactsCreated []Artifact            `json:"artifacts_created,omitempty"`
	ArtifactsUpdated []Artifact            `json:"artifacts_updated,omitempty"`
	Decision         *Decision             `json:"decision,omitempty"`
	Concern          *Concern              `json:"concern,omitempty"`
	Learning         string                `json:"learning,omitempty"`
	Clarification    *ClarificationRequest `json:"clarification,omitempty"`
	Milestone        *MilestoneRequest     `json:"milestone,omitempty"`
	Phase            ProjectState          `json:"phase,omitempty"`
	ClearBlockers    []string              `json:"clear_blockers,omitempty"`
	SignOff          bool                  `json:"sign_off"`
	RevokeSignOff    string                `json:"revoke_signoff,omitempty"`
	FollowUp         *FollowUp             `json:"follow_up,omitempty"`
}

// FollowUp is a task a role queues for itself. It stays in the backlog until
// every request it awaits from the same outcome has been answered.
type FollowUp struct {
	Subject string `json:"subject"`
	Content string `json:"content,omitempty"`
	// AwaitOutgoing holds indexes into Outcome.Outgoing.
	AwaitOutgoing      []int `json:"await_outgoing,omitempty"`
	AwaitClarification bool  `json:"await_clarification,omitempty"`
}

// Reasoner turns an envelope and role context into an Outcome. It must only
// return or fail; it never touches mailbox state.
type Reasoner interface {
	Process(ctx context.Context, env *envelope.Envelope, rc RoleContext) (*Outcome, error)
}

// ReasonerFunc adapts a function to the Reasoner interface.
type ReasonerFunc func(ctx context.Context, env *envelope.Envelope, rc RoleContext) (*Outcome, error)

// Process calls f.
func (f ReasonerFunc) Process(ctx context.Context, env *envelope.Envelope, rc RoleContext) (*Outcome, error) {
	return f(ctx, env, rc)
}

// =============================================================================
// External collaborators
// =============================================================================

// ArtifactStore persists artifacts produced by roles. Failures are logged by
// the executor and never treated as processing failures.
type ArtifactStore interface {
	Create(ctx context.Context, a Artifact) error
	Update(ctx context.Context, a Artifact) error
}

// MilestoneDecision is the operator's verdict on a milestone.
type MilestoneDecision struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// HumanBridge reaches the human operator. Calls block until answered.
type HumanBridge interface {
	AwaitClarification(ctx context.Context, req *envelope.Envelope) (string, error)
	AwaitMilestoneDecision(ctx context.Context, name, description string) (MilestoneDecision, error)
}

// PersistenceHook stores periodic project snapshots. Best-effort.
type PersistenceHook interface {
	Snapshot(ctx context.Context, snap ProjectSnapshot) error
}

// Sender routes envelopes. Implemented by commbus.MessageRouter.
type Sender interface {
	Send(ctx context.Context, env *envelope.Envelope) error
}

// Coordinator is an executor's channel back to the orchestrator.
type Coordinator interface {
	RequestClarification(role envelope.Role, req *envelope.Envelope)
	RequestMilestone(role envelope.Role, m MilestoneRequest)
	ReportPhase(role envelope.Role, phase ProjectState)
}

// =============================================================================
// Snapshot
// =============================================================================

// ProjectSnapshot is handed to the persistence hook.
type ProjectSnapshot struct {
	Project  ProjectRecord        `json:"project"`
	Agents   []AgentSnapshot      `json:"agents"`
	Activity []*envelope.Envelope `json:"activity"`
	Reason   string               `json:"reason"`
}
