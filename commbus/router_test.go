package commbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type recordingInbox struct {
	mu       sync.Mutex
	received []*envelope.Envelope
}

func (r *recordingInbox) Enqueue(env *envelope.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, env)
}

func (r *recordingInbox) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func newTestRouter(t *testing.T, opts ...RouterOption) (*MessageRouter, map[envelope.Role]*recordingInbox) {
	t.Helper()
	router := NewMessageRouter(envelope.DefaultRegistry(), opts...)
	inboxes := make(map[envelope.Role]*recordingInbox)
	for _, role := range envelope.AllRoles() {
		inbox := &recordingInbox{}
		require.NoError(t, router.Register(role, inbox))
		inboxes[role] = inbox
	}
	return router, inboxes
}

func direct(from, to envelope.Role, subject string) *envelope.Envelope {
	return envelope.New(envelope.To(from), envelope.To(to), envelope.KindRequest, subject)
}

type abortMiddleware struct{}

func (abortMiddleware) Before(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	return nil, nil
}
func (abortMiddleware) After(ctx context.Context, env *envelope.Envelope, delivered int, err error) {}

type recordingMiddleware struct {
	name  string
	order *[]string
	mu    *sync.Mutex
}

func (m recordingMiddleware) Before(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+":before")
	m.mu.Unlock()
	return env, nil
}

func (m recordingMiddleware) After(ctx context.Context, env *envelope.Envelope, delivered int, err error) {
	m.mu.Lock()
	*m.order = append(*m.order, m.name+":after")
	m.mu.Unlock()
}

// =============================================================================
// REGISTRATION TESTS
// =============================================================================

func TestRegisterDuplicate(t *testing.T) {
	router := NewMessageRouter(envelope.DefaultRegistry())
	require.NoError(t, router.Register(envelope.RolePM, &recordingInbox{}))

	err := router.Register(envelope.RolePM, &recordingInbox{})
	var dup *MailboxAlreadyRegisteredError
	assert.True(t, errors.As(err, &dup))
	assert.Equal(t, "pm", dup.Role)
}

func TestRegisterRoleOutsideRegistry(t *testing.T) {
	reg, err := envelope.NewRegistry(envelope.RolePM, envelope.RoleDeveloper)
	require.NoError(t, err)
	router := NewMessageRouter(reg)

	err = router.Register(envelope.RoleTester, &recordingInbox{})
	var notIn *RoleNotInRegistryError
	assert.True(t, errors.As(err, &notIn))
}

func TestRegisteredRolesInPipelineOrder(t *testing.T) {
	router := NewMessageRouter(envelope.DefaultRegistry())
	require.NoError(t, router.Register(envelope.RoleTester, &recordingInbox{}))
	require.NoError(t, router.Register(envelope.RolePM, &recordingInbox{}))

	assert.Equal(t, []envelope.Role{envelope.RolePM, envelope.RoleTester}, router.RegisteredRoles())
}

// =============================================================================
// ROUTING TESTS
// =============================================================================

func TestSendDirect(t *testing.T) {
	router, inboxes := newTestRouter(t)
	env := direct(envelope.RolePM, envelope.RoleArchitect, "Design it")

	require.NoError(t, router.Send(context.Background(), env))

	assert.Equal(t, 1, inboxes[envelope.RoleArchitect].count())
	assert.Equal(t, 0, inboxes[envelope.RolePM].count())
	delivered := inboxes[envelope.RoleArchitect].received[0]
	assert.Equal(t, env.ID, delivered.ID)
	assert.NotSame(t, env, delivered)
}

func TestSendBroadcastSkipsSender(t *testing.T) {
	router, inboxes := newTestRouter(t)
	env := envelope.New(envelope.To(envelope.RoleDeveloper), envelope.AddressBroadcast,
		envelope.KindNotification, "Build is green")

	require.NoError(t, router.Send(context.Background(), env))

	assert.Equal(t, 0, inboxes[envelope.RoleDeveloper].count())
	for _, role := range []envelope.Role{envelope.RolePM, envelope.RoleArchitect, envelope.RoleTester} {
		require.Equal(t, 1, inboxes[role].count(), "role %s", role)
		got := inboxes[role].received[0]
		assert.Equal(t, envelope.To(role), got.Recipient)
		assert.Equal(t, env.ID, got.ID)
	}
}

func TestSendBroadcastCopiesAreIndependent(t *testing.T) {
	router, inboxes := newTestRouter(t)
	env := envelope.New(envelope.AddressHuman, envelope.AddressBroadcast,
		envelope.KindNotification, "Kickoff", envelope.WithPayload(map[string]any{"k": "v"}))

	require.NoError(t, router.Send(context.Background(), env))

	inboxes[envelope.RolePM].received[0].Payload["k"] = "changed"
	assert.Equal(t, "v", inboxes[envelope.RoleTester].received[0].Payload["k"])
	assert.Equal(t, 4, inboxes[envelope.RolePM].count()+inboxes[envelope.RoleArchitect].count()+
		inboxes[envelope.RoleDeveloper].count()+inboxes[envelope.RoleTester].count())
}

func TestSendToHumanIsNotEnqueued(t *testing.T) {
	router, inboxes := newTestRouter(t)
	env := envelope.New(envelope.To(envelope.RolePM), envelope.AddressHuman,
		envelope.KindClarificationRequest, "Which platform?")

	require.NoError(t, router.Send(context.Background(), env))

	for _, inbox := range inboxes {
		assert.Equal(t, 0, inbox.count())
	}
	assert.Equal(t, 1, router.ActivityCount())
}

func TestSendUnknownRecipientDropped(t *testing.T) {
	reg, err := envelope.NewRegistry(envelope.RolePM, envelope.RoleArchitect)
	require.NoError(t, err)
	router := NewMessageRouter(reg)
	pm := &recordingInbox{}
	require.NoError(t, router.Register(envelope.RolePM, pm))

	err = router.Send(context.Background(), direct(envelope.RolePM, envelope.RoleTester, "lost"))

	assert.True(t, errors.Is(err, ErrUnknownRecipient))
	assert.Equal(t, 0, pm.count())
	assert.Equal(t, 1, router.ActivityCount())
}

func TestSendNilEnvelope(t *testing.T) {
	router, _ := newTestRouter(t)
	assert.Error(t, router.Send(context.Background(), nil))
}

// =============================================================================
// ACTIVITY TESTS
// =============================================================================

func TestRecentActivityOrderAndLimit(t *testing.T) {
	router, _ := newTestRouter(t)
	for i := 0; i < 30; i++ {
		require.NoError(t, router.Send(context.Background(),
			direct(envelope.RolePM, envelope.RoleArchitect, fmt.Sprintf("msg-%02d", i))))
	}

	recent := router.RecentActivity(5)
	require.Len(t, recent, 5)
	for i, env := range recent {
		assert.Equal(t, fmt.Sprintf("msg-%02d", 25+i), env.Subject)
	}

	assert.Len(t, router.RecentActivity(0), DefaultActivityLimit)
	assert.Len(t, router.RecentActivity(100), 30)

	// Restartable: the same call returns the same view.
	assert.Equal(t, recent[0].ID, router.RecentActivity(5)[0].ID)
}

func TestActivityRetention(t *testing.T) {
	router, _ := newTestRouter(t, WithActivityRetention(3))
	for i := 0; i < 10; i++ {
		require.NoError(t, router.Send(context.Background(),
			direct(envelope.RolePM, envelope.RoleArchitect, fmt.Sprintf("m%d", i))))
	}

	assert.Equal(t, 3, router.ActivityCount())
	assert.Equal(t, "m9", router.RecentActivity(1)[0].Subject)
}

func TestSubscribeReceivesCopies(t *testing.T) {
	router, _ := newTestRouter(t)
	var seen []*envelope.Envelope
	router.Subscribe(func(env *envelope.Envelope) { seen = append(seen, env) })

	env := direct(envelope.RolePM, envelope.RoleTester, "hello")
	require.NoError(t, router.Send(context.Background(), env))

	require.Len(t, seen, 1)
	assert.Equal(t, env.ID, seen[0].ID)
	assert.NotSame(t, env, seen[0])
}

// =============================================================================
// MIDDLEWARE TESTS
// =============================================================================

func TestMiddlewareAbort(t *testing.T) {
	router, inboxes := newTestRouter(t, WithMiddleware(abortMiddleware{}))

	require.NoError(t, router.Send(context.Background(), direct(envelope.RolePM, envelope.RoleTester, "x")))

	assert.Equal(t, 0, inboxes[envelope.RoleTester].count())
	assert.Equal(t, 0, router.ActivityCount())
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	router, _ := newTestRouter(t, WithMiddleware(
		recordingMiddleware{name: "a", order: &order, mu: &mu},
		recordingMiddleware{name: "b", order: &order, mu: &mu},
	))

	require.NoError(t, router.Send(context.Background(), direct(envelope.RolePM, envelope.RoleTester, "x")))

	assert.Equal(t, []string{"a:before", "b:before", "b:after", "a:after"}, order)
}

func TestValidationMiddleware(t *testing.T) {
	router, inboxes := newTestRouter(t)
	router.Use(NewValidationMiddleware())

	orphan := envelope.New(envelope.To(envelope.RolePM), envelope.To(envelope.RoleTester), envelope.KindResponse, "Re: ?")
	err := router.Send(context.Background(), orphan)
	assert.Error(t, err)

	bad := direct(envelope.RolePM, envelope.RoleTester, "x")
	bad.Priority = envelope.Priority(9)
	assert.Error(t, router.Send(context.Background(), bad))

	assert.Equal(t, 0, inboxes[envelope.RoleTester].count())
}

func TestLoggingAndMetricsMiddlewarePassThrough(t *testing.T) {
	router, inboxes := newTestRouter(t, WithMiddleware(NewLoggingMiddleware(nil), NewMetricsMiddleware()))

	require.NoError(t, router.Send(context.Background(), direct(envelope.RolePM, envelope.RoleTester, "x")))
	assert.Equal(t, 1, inboxes[envelope.RoleTester].count())
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestConcurrentSends(t *testing.T) {
	router, inboxes := newTestRouter(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = router.Send(context.Background(), direct(envelope.RolePM, envelope.RoleDeveloper, "x"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, inboxes[envelope.RoleDeveloper].count())
	assert.Equal(t, 50, router.ActivityCount())
}
