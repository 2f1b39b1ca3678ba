package commbus

import (
	"context"
	"sync"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// DefaultActivityLimit is the number of entries RecentActivity returns for a
// non-positive limit.
const DefaultActivityLimit = 20

// MessageRouter delivers envelopes to role mailboxes.
//
// Thread-safe. Delivery into a mailbox goes through the mailbox's own lock;
// the router only guards its registration table and activity log.
//
// Usage:
//
//	router := NewMessageRouter(envelope.DefaultRegistry(), WithLogger(logger))
//	router.Register(envelope.RolePM, pmMailbox)
//	router.Send(ctx, env)
type MessageRouter struct {
	registry   *envelope.Registry
	mailboxes  map[envelope.Role]Inbox
	activity   []*envelope.Envelope
	retention  int
	listeners  []ActivityListener
	middleware []Middleware
	logger     Logger
	mu         sync.RWMutex
}

// RouterOption configures a MessageRouter.
type RouterOption func(*MessageRouter)

// WithLogger sets the router logger.
func WithLogger(logger Logger) RouterOption {
	return func(r *MessageRouter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithActivityRetention caps the activity log. Zero keeps everything.
func WithActivityRetention(n int) RouterOption {
	return func(r *MessageRouter) { r.retention = n }
}

// WithMiddleware appends middleware to the routing chain.
func WithMiddleware(mw ...Middleware) RouterOption {
	return func(r *MessageRouter) { r.middleware = append(r.middleware, mw...) }
}

// NewMessageRouter creates a router for the roles in registry.
func NewMessageRouter(registry *envelope.Registry, opts ...RouterOption) *MessageRouter {
	if registry == nil {
		registry = envelope.DefaultRegistry()
	}
	r := &MessageRouter{
		registry:   registry,
		mailboxes:  make(map[envelope.Role]Inbox),
		activity:   make([]*envelope.Envelope, 0),
		middleware: make([]Middleware, 0),
		logger:     noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register binds role to its mailbox. Each role may be registered once.
func (r *MessageRouter) Register(role envelope.Role, inbox Inbox) error {
	if !r.registry.Contains(role) {
		return NewRoleNotInRegistryError(string(role))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.mailboxes[role]; exists {
		return NewMailboxAlreadyRegisteredError(string(role))
	}
	r.mailboxes[role] = inbox
	r.logger.Debug("mailbox_registered", "role", string(role))
	return nil
}

// Subscribe adds a listener notified after every routed envelope.
func (r *MessageRouter) Subscribe(listener ActivityListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// Use adds middleware to the routing chain.
func (r *MessageRouter) Use(mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
}

// Registry returns the roles this router serves.
func (r *MessageRouter) Registry() *envelope.Registry {
	return r.registry
}

// RegisteredRoles returns the roles with mailboxes, in pipeline order.
func (r *MessageRouter) RegisteredRoles() []envelope.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]envelope.Role, 0, len(r.mailboxes))
	for _, role := range r.registry.Roles() {
		if _, ok := r.mailboxes[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// =============================================================================
// ROUTING
// =============================================================================

// Send records env in the activity log and delivers it.
//
//   - broadcast: a copy to every registered role except the sender
//   - human: not enqueued anywhere
//   - a registered role: enqueued into that role's mailbox
//   - anything else: dropped and reported as UnknownRecipientError
//
// Delivered envelopes are copies; the caller keeps ownership of env.
func (r *MessageRouter) Send(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return &RouterError{Message: "nil envelope"}
	}

	processed, err := r.runMiddlewareBefore(ctx, env)
	if err != nil {
		return err
	}
	if processed == nil {
		r.logger.Debug("envelope_aborted_by_middleware", "envelope_id", env.ID)
		return nil
	}

	r.mu.Lock()
	r.activity = append(r.activity, processed.Clone())
	if r.retention > 0 && len(r.activity) > r.retention {
		trimmed := make([]*envelope.Envelope, r.retention)
		copy(trimmed, r.activity[len(r.activity)-r.retention:])
		r.activity = trimmed
	}
	targets := r.resolveTargetsLocked(processed)
	listeners := make([]ActivityListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	var routeErr error
	switch {
	case processed.Recipient.IsHuman():
		r.logger.Info("envelope_to_human",
			"envelope_id", processed.ID,
			"sender", string(processed.Sender),
			"kind", string(processed.Kind),
		)
	case len(targets) == 0 && !processed.Recipient.IsBroadcast():
		routeErr = NewUnknownRecipientError(processed.ID, string(processed.Recipient))
		r.logger.Warn("envelope_dropped_unknown_recipient",
			"envelope_id", processed.ID,
			"recipient", string(processed.Recipient),
			"sender", string(processed.Sender),
		)
	default:
		for _, t := range targets {
			t.inbox.Enqueue(processed.CopyFor(envelope.To(t.role)))
		}
		r.logger.Debug("envelope_routed",
			"envelope_id", processed.ID,
			"sender", string(processed.Sender),
			"recipient", string(processed.Recipient),
			"kind", string(processed.Kind),
			"priority", processed.Priority.String(),
			"delivered", len(targets),
		)
	}

	for _, listener := range listeners {
		listener(processed.Clone())
	}

	r.runMiddlewareAfter(ctx, processed, len(targets), routeErr)
	return routeErr
}

type target struct {
	role  envelope.Role
	inbox Inbox
}

func (r *MessageRouter) resolveTargetsLocked(env *envelope.Envelope) []target {
	if env.Recipient.IsHuman() {
		return nil
	}
	if env.Recipient.IsBroadcast() {
		targets := make([]target, 0, len(r.mailboxes))
		for _, role := range r.registry.Roles() {
			if envelope.To(role) == env.Sender {
				continue
			}
			if inbox, ok := r.mailboxes[role]; ok {
				targets = append(targets, target{role: role, inbox: inbox})
			}
		}
		return targets
	}
	role, ok := env.Recipient.Role()
	if !ok {
		return nil
	}
	inbox, ok := r.mailboxes[role]
	if !ok {
		return nil
	}
	return []target{{role: role, inbox: inbox}}
}

// =============================================================================
// ACTIVITY
// =============================================================================

// RecentActivity returns the last limit routed envelopes in send order.
// A non-positive limit uses DefaultActivityLimit.
func (r *MessageRouter) RecentActivity(limit int) []*envelope.Envelope {
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := len(r.activity) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*envelope.Envelope, 0, len(r.activity)-start)
	for _, env := range r.activity[start:] {
		out = append(out, env.Clone())
	}
	return out
}

// ActivityCount returns the number of entries in the activity log.
func (r *MessageRouter) ActivityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activity)
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func (r *MessageRouter) runMiddlewareBefore(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	r.mu.RLock()
	middleware := make([]Middleware, len(r.middleware))
	copy(middleware, r.middleware)
	r.mu.RUnlock()

	current := env
	for _, mw := range middleware {
		var err error
		current, err = mw.Before(ctx, current)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, nil
		}
	}
	return current, nil
}

func (r *MessageRouter) runMiddlewareAfter(ctx context.Context, env *envelope.Envelope, delivered int, err error) {
	r.mu.RLock()
	middleware := make([]Middleware, len(r.middleware))
	copy(middleware, r.middleware)
	r.mu.RUnlock()

	// Reverse order
	for i := len(middleware) - 1; i >= 0; i-- {
		middleware[i].After(ctx, env, delivered, err)
	}
}
