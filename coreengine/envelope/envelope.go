package envelope

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrEnvelopeImmutable is returned when a completed or cancelled envelope is
// asked to change status.
var ErrEnvelopeImmutable = errors.New("envelope is immutable once completed or cancelled")

// seq breaks ordering ties between envelopes created within the same clock tick.
var seq atomic.Uint64

// Envelope is a routed unit of work or communication.
type Envelope struct {
	// Identity
	ID       string `json:"id"`
	ThreadID string `json:"thread_id,omitempty"`
	ParentID string `json:"parent_id,omitempty"`

	// Routing
	Sender    Address `json:"sender"`
	Recipient Address `json:"recipient"`

	// Classification
	Kind     Kind     `json:"kind"`
	Intent   Intent   `json:"intent"`
	Priority Priority `json:"priority"`

	// Payload
	Subject string         `json:"subject"`
	Content string         `json:"content"`
	Payload map[string]any `json:"payload,omitempty"`

	// Lifecycle
	Status           Status `json:"status"`
	RequiresResponse bool   `json:"requires_response"`
	ResponseReceived bool   `json:"response_received"`

	// AwaitingIDs lists envelopes whose responses must arrive before this
	// one can be worked on.
	AwaitingIDs []string `json:"awaiting_ids,omitempty"`

	// Attempts counts failed processing attempts.
	Attempts int `json:"attempts"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Seq         uint64     `json:"seq"`
}

// Option configures an envelope at creation time.
type Option func(*Envelope)

// WithPriority sets the priority tier.
func WithPriority(p Priority) Option {
	return func(e *Envelope) { e.Priority = p }
}

// WithIntent sets the sub-category.
func WithIntent(i Intent) Option {
	return func(e *Envelope) { e.Intent = i }
}

// WithKind overrides the kind.
func WithKind(k Kind) Option {
	return func(e *Envelope) { e.Kind = k }
}

// WithContent sets the free-text body.
func WithContent(content string) Option {
	return func(e *Envelope) { e.Content = content }
}

// WithPayload sets the structured payload.
func WithPayload(p map[string]any) Option {
	return func(e *Envelope) { e.Payload = deepCopyAnyMap(p) }
}

// WithThread sets the conversation thread.
func WithThread(threadID string) Option {
	return func(e *Envelope) { e.ThreadID = threadID }
}

// WithParent marks the envelope as answering parentID.
func WithParent(parentID string) Option {
	return func(e *Envelope) { e.ParentID = parentID }
}

// WithResponseRequired marks the envelope as expecting an answer.
func WithResponseRequired() Option {
	return func(e *Envelope) { e.RequiresResponse = true }
}

// AwaitingResponseTo makes the envelope wait until the given envelopes have
// been answered.
func AwaitingResponseTo(ids ...string) Option {
	return func(e *Envelope) { e.AwaitingIDs = append(e.AwaitingIDs, ids...) }
}

// WithCreatedAt pins the creation time.
func WithCreatedAt(t time.Time) Option {
	return func(e *Envelope) { e.CreatedAt = t }
}

// New creates a pending envelope with Medium priority and General intent.
func New(sender, recipient Address, kind Kind, subject string, opts ...Option) *Envelope {
	e := &Envelope{
		ID:        "env_" + uuid.New().String()[:16],
		Sender:    sender,
		Recipient: recipient,
		Kind:      kind,
		Intent:    IntentGeneral,
		Priority:  PriorityMedium,
		Subject:   subject,
		Payload:   make(map[string]any),
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		Seq:       seq.Add(1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateResponse builds an answer to parent sent by responder. The recipient
// is always the parent's sender.
func CreateResponse(parent *Envelope, responder Address, content string, opts ...Option) *Envelope {
	thread := parent.ThreadID
	if thread == "" {
		thread = parent.ID
	}
	subject := parent.Subject
	if !strings.HasPrefix(subject, "Re: ") {
		subject = "Re: " + subject
	}
	base := []Option{
		WithParent(parent.ID),
		WithThread(thread),
		WithIntent(parent.Intent),
		WithPriority(parent.Priority),
		WithContent(content),
	}
	return New(responder, parent.Sender, KindResponse, subject, append(base, opts...)...)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func (e *Envelope) transition(to Status) error {
	if e.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrEnvelopeImmutable, e.ID, e.Status)
	}
	e.Status = to
	return nil
}

// Start marks the envelope in progress.
func (e *Envelope) Start() error {
	return e.transition(StatusInProgress)
}

// Complete marks the envelope completed.
func (e *Envelope) Complete() error {
	if err := e.transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.CompletedAt = &now
	return nil
}

// Block marks the envelope blocked on a dependency.
func (e *Envelope) Block() error {
	return e.transition(StatusBlocked)
}

// Unblock returns a blocked envelope to pending.
func (e *Envelope) Unblock() error {
	return e.transition(StatusPending)
}

// Cancel marks the envelope cancelled.
func (e *Envelope) Cancel() error {
	return e.transition(StatusCancelled)
}

// Downgrade prepares a failed envelope for another attempt at Low priority.
// The id is preserved.
func (e *Envelope) Downgrade() error {
	if err := e.transition(StatusPending); err != nil {
		return err
	}
	e.Priority = PriorityLow
	e.Attempts++
	return nil
}

// IsAwaiting reports whether the envelope depends on the response to id.
func (e *Envelope) IsAwaiting(id string) bool {
	for _, a := range e.AwaitingIDs {
		if a == id {
			return true
		}
	}
	return false
}

// Summary is a short one-line description used for status displays.
func (e *Envelope) Summary() string {
	return fmt.Sprintf("[%s/%s] %s (from %s)", e.Kind, e.Intent, e.Subject, e.Sender)
}

// Less orders envelopes by priority, then creation time, then sequence.
func (e *Envelope) Less(other *Envelope) bool {
	if e.Priority != other.Priority {
		return e.Priority < other.Priority
	}
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Seq < other.Seq
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Payload = deepCopyAnyMap(e.Payload)
	clone.AwaitingIDs = copyStringSlice(e.AwaitingIDs)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

// CopyFor returns a deep copy addressed to recipient, used for broadcast fan-out.
func (e *Envelope) CopyFor(recipient Address) *Envelope {
	clone := e.Clone()
	clone.Recipient = recipient
	return clone
}

// =============================================================================
// DEEP COPY HELPERS
// =============================================================================

func copyStringSlice(s []string) []string {
	if s == nil {
		return nil
	}
	result := make([]string, len(s))
	copy(result, s)
	return result
}

func deepCopyAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = deepCopyValue(v)
	}
	return result
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyAnyMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = deepCopyValue(item)
		}
		return result
	case []string:
		return copyStringSlice(val)
	default:
		return v
	}
}
