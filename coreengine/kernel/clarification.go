package kernel

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// ClarificationKind distinguishes questions from milestone reviews.
type ClarificationKind string

const (
	ClarificationQuestion  ClarificationKind = "question"
	ClarificationMilestone ClarificationKind = "milestone"
)

// ClarificationStatus is the lifecycle of a pending clarification.
type ClarificationStatus string

const (
	ClarificationPending   ClarificationStatus = "pending"
	ClarificationResolved  ClarificationStatus = "resolved"
	ClarificationCancelled ClarificationStatus = "cancelled"
)

// PendingClarification is one item waiting for the human operator.
type PendingClarification struct {
	ID         string              `json:"id"`
	Kind       ClarificationKind   `json:"kind"`
	Role       envelope.Role       `json:"role"`
	Request    *envelope.Envelope  `json:"request,omitempty"`
	Milestone  *MilestoneRequest   `json:"milestone,omitempty"`
	Status     ClarificationStatus `json:"status"`
	Answer     string              `json:"answer,omitempty"`
	Decision   *MilestoneDecision  `json:"decision,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
}

// ClarificationQueue holds clarification and milestone requests in arrival
// order. The orchestrator serves them one at a time.
// Thread-safe.
type ClarificationQueue struct {
	logger Logger
	order  []string
	store  map[string]*PendingClarification
	mu     sync.RWMutex
}

// NewClarificationQueue creates an empty queue.
func NewClarificationQueue(logger Logger) *ClarificationQueue {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ClarificationQueue{
		logger: logger,
		store:  make(map[string]*PendingClarification),
	}
}

func (q *ClarificationQueue) add(item *PendingClarification) *PendingClarification {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.store[item.ID] = item
	q.order = append(q.order, item.ID)
	q.logger.Info("clarification_queued",
		"clarification_id", item.ID,
		"kind", string(item.Kind),
		"role", string(item.Role),
	)
	return item
}

// AddQuestion queues a clarification request envelope from role.
func (q *ClarificationQueue) AddQuestion(role envelope.Role, req *envelope.Envelope) *PendingClarification {
	return q.add(&PendingClarification{
		ID:        "clr_" + uuid.New().String()[:16],
		Kind:      ClarificationQuestion,
		Role:      role,
		Request:   req,
		Status:    ClarificationPending,
		CreatedAt: time.Now().UTC(),
	})
}

// AddMilestone queues a milestone review requested by role.
func (q *ClarificationQueue) AddMilestone(role envelope.Role, m MilestoneRequest) *PendingClarification {
	return q.add(&PendingClarification{
		ID:        "clr_" + uuid.New().String()[:16],
		Kind:      ClarificationMilestone,
		Role:      role,
		Milestone: &m,
		Status:    ClarificationPending,
		CreatedAt: time.Now().UTC(),
	})
}

// Next returns the oldest pending item without removing it, or nil.
func (q *ClarificationQueue) Next() *PendingClarification {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, id := range q.order {
		if item := q.store[id]; item != nil && item.Status == ClarificationPending {
			return item
		}
	}
	return nil
}

// Get returns an item by id.
func (q *ClarificationQueue) Get(id string) *PendingClarification {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.store[id]
}

// ResolveQuestion records the operator's answer.
func (q *ClarificationQueue) ResolveQuestion(id, answer string) bool {
	return q.finish(id, ClarificationResolved, func(item *PendingClarification) {
		item.Answer = answer
	})
}

// ResolveMilestone records the operator's milestone decision.
func (q *ClarificationQueue) ResolveMilestone(id string, d MilestoneDecision) bool {
	return q.finish(id, ClarificationResolved, func(item *PendingClarification) {
		item.Decision = &d
	})
}

// Cancel drops a pending item.
func (q *ClarificationQueue) Cancel(id string) bool {
	return q.finish(id, ClarificationCancelled, nil)
}

func (q *ClarificationQueue) finish(id string, status ClarificationStatus, apply func(*PendingClarification)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.store[id]
	if !ok || item.Status != ClarificationPending {
		return false
	}
	now := time.Now().UTC()
	item.Status = status
	item.ResolvedAt = &now
	if apply != nil {
		apply(item)
	}
	q.logger.Info("clarification_finished", "clarification_id", id, "status", string(status))
	return true
}

// Pending returns copies of the unresolved items in arrival order.
func (q *ClarificationQueue) Pending() []PendingClarification {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]PendingClarification, 0, len(q.order))
	for _, id := range q.order {
		if item := q.store[id]; item != nil && item.Status == ClarificationPending {
			out = append(out, *item)
		}
	}
	return out
}

// PendingCount returns the number of unresolved items.
func (q *ClarificationQueue) PendingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, item := range q.store {
		if item.Status == ClarificationPending {
			n++
		}
	}
	return n
}

// CleanupResolved forgets finished items older than maxAge.
func (q *ClarificationQueue) CleanupResolved(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().UTC().Add(-maxAge)
	kept := q.order[:0]
	removed := 0
	for _, id := range q.order {
		item := q.store[id]
		if item.Status != ClarificationPending && item.ResolvedAt != nil && item.ResolvedAt.Before(cutoff) {
			delete(q.store, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
	return removed
}

// Stats returns counts per status.
func (q *ClarificationQueue) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	stats := map[string]int{
		string(ClarificationPending):   0,
		string(ClarificationResolved):  0,
		string(ClarificationCancelled): 0,
	}
	for _, item := range q.store {
		stats[string(item.Status)]++
	}
	return stats
}
