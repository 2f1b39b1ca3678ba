// Package envelope provides the task envelope exchanged between agents and the
// human operator, together with its classification enums and the role registry.
//
// Dispatch is decided by the sender at creation time:
//   - Kind says what the envelope is (request, response, question, ...)
//   - Intent says what it is about (requirements, design, bug report, ...)
//
// Receivers switch on these two fields and never inspect the subject line.
package envelope

import (
	"fmt"
	"strings"
)

// =============================================================================
// PRIORITY
// =============================================================================

// Priority orders envelopes in a mailbox. Lower values are served first.
type Priority int

const (
	// PriorityCritical is served before everything else.
	PriorityCritical Priority = 0
	// PriorityHigh is used for human input and unblocking answers.
	PriorityHigh Priority = 1
	// PriorityMedium is the default tier.
	PriorityMedium Priority = 2
	// PriorityLow is the tier failed envelopes are downgraded to.
	PriorityLow Priority = 3
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// IsValid reports whether p is one of the four defined tiers.
func (p Priority) IsValid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// ParsePriority converts a name such as "high" into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium", "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityMedium, fmt.Errorf("unknown priority %q", s)
}

// =============================================================================
// KIND
// =============================================================================

// Kind classifies what an envelope is.
type Kind string

const (
	KindRequest               Kind = "request"
	KindResponse              Kind = "response"
	KindNotification          Kind = "notification"
	KindFeedback              Kind = "feedback"
	KindQuestion              Kind = "question"
	KindClarificationRequest  Kind = "clarification_request"
	KindClarificationResponse Kind = "clarification_response"
	KindSystem                Kind = "system"
)

// IsReply reports whether the kind answers a previous envelope.
func (k Kind) IsReply() bool {
	return k == KindResponse || k == KindClarificationResponse
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindRequest, KindResponse, KindNotification, KindFeedback, KindQuestion,
		KindClarificationRequest, KindClarificationResponse, KindSystem:
		return true
	}
	return false
}

// =============================================================================
// INTENT
// =============================================================================

// Intent is the structured sub-category of an envelope.
type Intent string

const (
	IntentGeneral        Intent = "general"
	IntentRequirements   Intent = "requirements"
	IntentDesign         Intent = "design"
	IntentImplementation Intent = "implementation"
	IntentBugReport      Intent = "bug_report"
	IntentReview         Intent = "review"
	IntentMilestone      Intent = "milestone"
	IntentGuidance       Intent = "guidance"
	IntentStatus         Intent = "status"
)

// IsValid reports whether i is a known intent.
func (i Intent) IsValid() bool {
	switch i {
	case IntentGeneral, IntentRequirements, IntentDesign, IntentImplementation,
		IntentBugReport, IntentReview, IntentMilestone, IntentGuidance, IntentStatus:
		return true
	}
	return false
}

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle status of an envelope.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal returns true if no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
