package kernel

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// =============================================================================
// Envelope heap
// =============================================================================

// envelopeHeap implements heap.Interface ordered by (priority, created_at, seq).
type envelopeHeap []*envelope.Envelope

func (h envelopeHeap) Len() int           { return len(h) }
func (h envelopeHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h envelopeHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *envelopeHeap) Push(x any) {
	*h = append(*h, x.(*envelope.Envelope))
}

func (h *envelopeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

// =============================================================================
// PriorityMailbox
// =============================================================================

// MailboxCounts is a point-in-time view of a mailbox's queue sizes.
type MailboxCounts struct {
	Inbox   int `json:"inbox"`
	Backlog int `json:"backlog"`
	Outbox  int `json:"outbox"`
}

// PriorityMailbox holds work for exactly one agent.
//
// The inbox is served by (priority, creation time). An envelope is blocked
// while any id in its AwaitingIDs is still outstanding in this mailbox's
// outbox; blocked envelopes wait in the backlog. Responses clear outbox
// entries as soon as they are enqueued, which releases dependents back into
// the inbox.
//
// Thread-safe. Enqueue never blocks on consumers.
type PriorityMailbox struct {
	role     envelope.Role
	inbox    envelopeHeap
	backlog  []*envelope.Envelope
	outbox   map[string]*envelope.Envelope
	inFlight *envelope.Envelope
	logger   Logger
	mu       sync.Mutex
}

// MailboxOption configures a PriorityMailbox.
type MailboxOption func(*PriorityMailbox)

// WithMailboxLogger sets the logger used for dropped envelopes.
func WithMailboxLogger(logger Logger) MailboxOption {
	return func(m *PriorityMailbox) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewPriorityMailbox creates an empty mailbox for role.
func NewPriorityMailbox(role envelope.Role, opts ...MailboxOption) *PriorityMailbox {
	m := &PriorityMailbox{
		role:   role,
		inbox:  make(envelopeHeap, 0),
		outbox: make(map[string]*envelope.Envelope),
		logger: noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Role returns the owning role.
func (m *PriorityMailbox) Role() envelope.Role {
	return m.role
}

// Enqueue inserts env in priority order. A reply whose parent is outstanding
// in the outbox clears that entry first.
func (m *PriorityMailbox) Enqueue(env *envelope.Envelope) {
	if env == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if env.Kind.IsReply() && env.ParentID != "" {
		if m.resolveLocked(env.ParentID) {
			m.releaseBacklogLocked()
		}
	}
	heap.Push(&m.inbox, env)
}

// DequeueNext returns the next eligible envelope or nil. Blocked envelopes
// popped from the inbox move to the backlog. When the inbox is empty the
// backlog is re-evaluated and its best unblocked entry is returned.
func (m *PriorityMailbox) DequeueNext() *envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.inbox.Len() > 0 {
		env := heap.Pop(&m.inbox).(*envelope.Envelope)
		if m.isBlockedLocked(env) {
			if err := env.Block(); err != nil {
				m.dropLocked(env, err)
				continue
			}
			m.backlog = append(m.backlog, env)
			continue
		}
		m.inFlight = env
		return env
	}

	best := -1
	for i, env := range m.backlog {
		if m.isBlockedLocked(env) {
			continue
		}
		if best < 0 || env.Less(m.backlog[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	env := m.backlog[best]
	m.backlog = append(m.backlog[:best], m.backlog[best+1:]...)
	if err := env.Unblock(); err != nil {
		m.dropLocked(env, err)
		return nil
	}
	m.inFlight = env
	return env
}

// MarkSent records env in the outbox if it demands a response.
func (m *PriorityMailbox) MarkSent(env *envelope.Envelope) {
	if env == nil || !env.RequiresResponse {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbox[env.ID] = env
}

// CancelSent drops an outbox entry whose envelope never reached anyone.
func (m *PriorityMailbox) CancelSent(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.outbox[id]; ok {
		delete(m.outbox, id)
		m.releaseBacklogLocked()
	}
}

// Requeue re-inserts an envelope after a failed attempt.
func (m *PriorityMailbox) Requeue(env *envelope.Envelope) {
	if env == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight == env {
		m.inFlight = nil
	}
	heap.Push(&m.inbox, env)
}

// Done releases the in-flight slot.
func (m *PriorityMailbox) Done(env *envelope.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight == env {
		m.inFlight = nil
	}
}

// InFlight returns the envelope currently being worked on, if any.
func (m *PriorityMailbox) InFlight() *envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// IsOutstanding reports whether id is still awaiting a response.
func (m *PriorityMailbox) IsOutstanding(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.outbox[id]
	return ok
}

// InboxCount returns the number of envelopes in the inbox.
func (m *PriorityMailbox) InboxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inbox.Len()
}

// OutboxCount returns the number of envelopes awaiting a response.
func (m *PriorityMailbox) OutboxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbox)
}

// BacklogCount returns the number of blocked envelopes.
func (m *PriorityMailbox) BacklogCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backlog)
}

// Counts returns all three sizes under one lock.
func (m *PriorityMailbox) Counts() MailboxCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MailboxCounts{
		Inbox:   m.inbox.Len(),
		Backlog: len(m.backlog),
		Outbox:  len(m.outbox),
	}
}

// PeekInbox returns up to limit inbox envelopes in service order without
// removing them. A limit <= 0 returns all of them.
func (m *PriorityMailbox) PeekInbox(limit int) []*envelope.Envelope {
	m.mu.Lock()
	items := make([]*envelope.Envelope, len(m.inbox))
	for i, env := range m.inbox {
		items[i] = env.Clone()
	}
	m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Less(items[j]) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Clear drops everything held by the mailbox.
func (m *PriorityMailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = make(envelopeHeap, 0)
	m.backlog = nil
	m.outbox = make(map[string]*envelope.Envelope)
	m.inFlight = nil
}

// =============================================================================
// Internal helpers (caller holds mu)
// =============================================================================

func (m *PriorityMailbox) isBlockedLocked(env *envelope.Envelope) bool {
	for _, id := range env.AwaitingIDs {
		if _, waiting := m.outbox[id]; waiting {
			return true
		}
	}
	return false
}

func (m *PriorityMailbox) resolveLocked(parentID string) bool {
	req, ok := m.outbox[parentID]
	if !ok {
		return false
	}
	req.ResponseReceived = true
	delete(m.outbox, parentID)
	return true
}

// releaseBacklogLocked moves every backlog entry that is no longer blocked
// back into the inbox.
func (m *PriorityMailbox) releaseBacklogLocked() {
	if len(m.backlog) == 0 {
		return
	}
	kept := m.backlog[:0]
	for _, env := range m.backlog {
		if m.isBlockedLocked(env) {
			kept = append(kept, env)
			continue
		}
		if err := env.Unblock(); err != nil {
			m.dropLocked(env, err)
			continue
		}
		heap.Push(&m.inbox, env)
	}
	for i := len(kept); i < len(m.backlog); i++ {
		m.backlog[i] = nil
	}
	m.backlog = kept
}

// dropLocked discards an envelope that reached a terminal status while it
// was queued; it can no longer be worked on.
func (m *PriorityMailbox) dropLocked(env *envelope.Envelope, err error) {
	m.logger.Warn("envelope_dropped",
		"role", string(m.role),
		"envelope_id", env.ID,
		"status", string(env.Status),
		"error", err.Error(),
	)
}
