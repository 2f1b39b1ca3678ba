package kernel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// =============================================================================
// Clarification Queue Tests
// =============================================================================

func newQuestion(role envelope.Role, text string) *envelope.Envelope {
	return envelope.New(envelope.To(role), envelope.AddressHuman, envelope.KindClarificationRequest,
		"Clarification needed", envelope.WithContent(text), envelope.WithResponseRequired())
}

func TestClarificationQueue_FIFO(t *testing.T) {
	q := NewClarificationQueue(nil)
	first := q.AddQuestion(envelope.RolePM, newQuestion(envelope.RolePM, "who are the users?"))
	second := q.AddMilestone(envelope.RoleArchitect, MilestoneRequest{Name: "design"})

	assert.Contains(t, first.ID, "clr_")
	assert.Equal(t, 2, q.PendingCount())
	assert.Equal(t, first.ID, q.Next().ID)

	pending := q.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	require.True(t, q.ResolveQuestion(first.ID, "small teams"))
	next := q.Next()
	require.NotNil(t, next)
	assert.Equal(t, second.ID, next.ID)
	assert.Equal(t, ClarificationMilestone, next.Kind)

	require.True(t, q.ResolveMilestone(second.ID, MilestoneDecision{Approved: true}))
	assert.Nil(t, q.Next())
	assert.Equal(t, 0, q.PendingCount())

	got := q.Get(first.ID)
	assert.Equal(t, "small teams", got.Answer)
	assert.Equal(t, ClarificationResolved, got.Status)
	assert.NotNil(t, got.ResolvedAt)
}

func TestClarificationQueue_FinishOnlyOnce(t *testing.T) {
	q := NewClarificationQueue(nil)
	item := q.AddQuestion(envelope.RoleDeveloper, newQuestion(envelope.RoleDeveloper, "q"))

	assert.True(t, q.Cancel(item.ID))
	assert.False(t, q.ResolveQuestion(item.ID, "late"))
	assert.False(t, q.Cancel("clr_missing"))
	assert.Equal(t, ClarificationCancelled, q.Get(item.ID).Status)
}

func TestClarificationQueue_StatsAndCleanup(t *testing.T) {
	q := NewClarificationQueue(nil)
	a := q.AddQuestion(envelope.RolePM, newQuestion(envelope.RolePM, "a"))
	b := q.AddQuestion(envelope.RolePM, newQuestion(envelope.RolePM, "b"))
	q.AddQuestion(envelope.RolePM, newQuestion(envelope.RolePM, "c"))
	q.ResolveQuestion(a.ID, "yes")
	q.Cancel(b.ID)

	stats := q.Stats()
	assert.Equal(t, 1, stats["pending"])
	assert.Equal(t, 1, stats["resolved"])
	assert.Equal(t, 1, stats["cancelled"])

	assert.Equal(t, 0, q.CleanupResolved(time.Hour), "too recent")
	assert.Equal(t, 2, q.CleanupResolved(-time.Second))
	assert.Nil(t, q.Get(a.ID))
	assert.Equal(t, 1, q.PendingCount())
}

// =============================================================================
// Convergence Tests
// =============================================================================

func snapshots(signed ...bool) []AgentSnapshot {
	roles := envelope.AllRoles()
	out := make([]AgentSnapshot, len(signed))
	for i, s := range signed {
		out[i] = AgentSnapshot{Role: roles[i%len(roles)], SignedOff: s}
	}
	return out
}

func TestConvergenceMonitor(t *testing.T) {
	m := NewConvergenceMonitor()

	assert.False(t, m.Poll(nil), "no roles never converges")
	assert.False(t, m.Poll(snapshots(true, true, true, false)))
	assert.Equal(t, "3/4 agents signed off", m.Summary())

	assert.True(t, m.Poll(snapshots(true, true, true, true)))
	assert.True(t, m.Converged())
	signed, total := m.Progress()
	assert.Equal(t, 4, signed)
	assert.Equal(t, 4, total)

	// Flipping one back clears the detected state.
	assert.False(t, m.Poll(snapshots(true, false, true, true)))
	assert.False(t, m.Converged())
	assert.Equal(t, "3/4 agents signed off", m.Summary())
}

// =============================================================================
// Command Tests
// =============================================================================

func TestParseCommandKind(t *testing.T) {
	for _, s := range []string{"pause", "RESUME", " inject ", "shutdown", "status"} {
		_, err := ParseCommandKind(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseCommandKind("revoke_signoff")
	assert.Error(t, err, "internal command is not operator-facing")
	_, err = ParseCommandKind("reboot")
	assert.Error(t, err)
}

func TestCommandValidate(t *testing.T) {
	reg, err := envelope.NewRegistry(envelope.RolePM, envelope.RoleDeveloper)
	require.NoError(t, err)

	tests := []struct {
		name    string
		cmd     Command
		wantErr bool
	}{
		{"global pause", Pause(), false},
		{"targeted resume", Resume(envelope.RoleDeveloper), false},
		{"inject with text", Inject("focus on tests", envelope.RolePM), false},
		{"inject without text", Inject("  "), true},
		{"revoke without text", Command{Kind: CommandRevokeSignOff}, true},
		{"target not registered", Shutdown(envelope.RoleTester), true},
		{"unknown kind", Command{Kind: "reboot"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cmd.Validate(reg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.True(t, Pause().IsGlobal())
	assert.False(t, Pause(envelope.RolePM).IsGlobal())
}

// =============================================================================
// Clock Helper Tests
// =============================================================================

// manualClock fires After channels only when tick is called.
type manualClock struct {
	ticks chan time.Time
}

func (c *manualClock) Now() time.Time                       { return time.Time{} }
func (c *manualClock) After(time.Duration) <-chan time.Time { return c.ticks }

func TestSleep(t *testing.T) {
	clock := &manualClock{ticks: make(chan time.Time, 1)}

	clock.ticks <- time.Time{}
	assert.True(t, sleep(context.Background(), clock, time.Second, nil))

	stop := make(chan struct{})
	close(stop)
	assert.False(t, sleep(context.Background(), clock, time.Second, stop))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleep(ctx, clock, time.Second, nil))
}

func TestRunEvery_SurvivesPanics(t *testing.T) {
	clock := &manualClock{ticks: make(chan time.Time)}
	logger := &testLogger{}
	stop := make(chan struct{})
	calls := make(chan int, 3)
	done := make(chan struct{})

	n := 0
	go func() {
		defer close(done)
		runEvery(context.Background(), clock, time.Second, stop, logger, "tick", func(context.Context) {
			n++
			calls <- n
			if n == 1 {
				panic(fmt.Sprintf("tick %d", n))
			}
		})
	}()

	clock.ticks <- time.Time{}
	assert.Equal(t, 1, <-calls)
	clock.ticks <- time.Time{}
	assert.Equal(t, 2, <-calls)

	close(stop)
	<-done
	assert.True(t, logger.has("panic_recovered"))
}
