package kernel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// stepClock is a settable clock for window tests.
type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time                         { return c.now }
func (c *stepClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (c *stepClock) advance(d time.Duration)                { c.now = c.now.Add(d) }

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

// =============================================================================
// Call Limiter Tests
// =============================================================================

func TestCallLimitConfig_Enabled(t *testing.T) {
	assert.True(t, DefaultCallLimitConfig().Enabled())
	assert.False(t, CallLimitConfig{}.Enabled())
	assert.True(t, CallLimitConfig{PerHour: 1}.Enabled())
}

func TestCallLimiter_AllowsUpToLimit(t *testing.T) {
	clock := newStepClock()
	l := NewCallLimiter(CallLimitConfig{PerMinute: 3}, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow(envelope.RoleDeveloper), "call %d", i)
	}

	err := l.Allow(envelope.RoleDeveloper)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))

	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, envelope.RoleDeveloper, rl.Role)
	assert.Equal(t, "minute", rl.Window)
	assert.Equal(t, 3, rl.Current)
	assert.Equal(t, 3, rl.Limit)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
	assert.Contains(t, rl.Error(), "developer exceeded 3 calls per minute")

	assert.Equal(t, 3, l.Usage(envelope.RoleDeveloper)["minute"], "refused call not recorded")
}

func TestCallLimiter_WindowSlides(t *testing.T) {
	clock := newStepClock()
	l := NewCallLimiter(CallLimitConfig{PerMinute: 1}, clock)

	require.NoError(t, l.Allow(envelope.RolePM))
	require.Error(t, l.Allow(envelope.RolePM))

	clock.advance(2 * time.Minute)
	assert.NoError(t, l.Allow(envelope.RolePM))
}

func TestCallLimiter_RolesAreIsolated(t *testing.T) {
	l := NewCallLimiter(CallLimitConfig{PerMinute: 1}, newStepClock())

	require.NoError(t, l.Allow(envelope.RolePM))
	assert.NoError(t, l.Allow(envelope.RoleTester))
	assert.Error(t, l.Allow(envelope.RolePM))
}

func TestCallLimiter_HourWindow(t *testing.T) {
	clock := newStepClock()
	l := NewCallLimiter(CallLimitConfig{PerMinute: 10, PerHour: 2}, clock)

	require.NoError(t, l.Allow(envelope.RoleArchitect))
	clock.advance(5 * time.Minute)
	require.NoError(t, l.Allow(envelope.RoleArchitect))
	clock.advance(5 * time.Minute)

	var rl *RateLimitedError
	require.ErrorAs(t, l.Allow(envelope.RoleArchitect), &rl)
	assert.Equal(t, "hour", rl.Window)

	usage := l.Usage(envelope.RoleArchitect)
	assert.Equal(t, 0, usage["minute"])
	assert.Equal(t, 2, usage["hour"])
}

func TestCallLimiter_Reset(t *testing.T) {
	l := NewCallLimiter(CallLimitConfig{PerMinute: 1}, newStepClock())
	require.NoError(t, l.Allow(envelope.RolePM))
	require.NoError(t, l.Allow(envelope.RoleTester))

	l.Reset(envelope.RolePM)
	assert.NoError(t, l.Allow(envelope.RolePM))
	assert.Error(t, l.Allow(envelope.RoleTester))
	assert.Equal(t, map[string]int{"minute": 0, "hour": 0}, l.Usage(envelope.RoleDeveloper))
}

func TestLimitReasoner(t *testing.T) {
	l := NewCallLimiter(CallLimitConfig{PerMinute: 1}, newStepClock())
	calls := 0
	inner := ReasonerFunc(func(context.Context, *envelope.Envelope, RoleContext) (*Outcome, error) {
		calls++
		return &Outcome{Learning: "ok"}, nil
	})
	r := LimitReasoner(inner, l)
	rc := RoleContext{Role: envelope.RoleDeveloper}

	out, err := r.Process(context.Background(), nil, rc)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Learning)

	_, err = r.Process(context.Background(), nil, rc)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, calls, "refused call never reaches the reasoner")
}
