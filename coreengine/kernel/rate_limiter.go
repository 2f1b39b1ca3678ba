package kernel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chuan-gyld/ai-firm/coreengine/envelope"
)

// =============================================================================
// Call Limit Config & Result
// =============================================================================

// CallLimitConfig bounds how often one role may invoke its reasoner.
// A zero limit disables that window.
type CallLimitConfig struct {
	PerMinute int `json:"per_minute" yaml:"per_minute"`
	PerHour   int `json:"per_hour" yaml:"per_hour"`
}

// DefaultCallLimitConfig returns the limits used when none are configured.
func DefaultCallLimitConfig() CallLimitConfig {
	return CallLimitConfig{
		PerMinute: 30,
		PerHour:   600,
	}
}

// Enabled reports whether any window is limited.
func (c CallLimitConfig) Enabled() bool {
	return c.PerMinute > 0 || c.PerHour > 0
}

// ErrRateLimited is matched by RateLimitedError.
var ErrRateLimited = errors.New("rate limited")

// RateLimitedError reports an exceeded window.
type RateLimitedError struct {
	Role       envelope.Role
	Window     string
	Current    int
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s exceeded %d calls per %s (retry in %s)", e.Role, e.Limit, e.Window, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// =============================================================================
// Sliding Window
// =============================================================================

// slidingWindow counts events in sub-buckets of a fixed window.
// Not thread-safe; guarded by CallLimiter.
type slidingWindow struct {
	size        time.Duration
	bucketCount int
	buckets     map[int64]int
}

func newSlidingWindow(size time.Duration) *slidingWindow {
	return &slidingWindow{
		size:        size,
		bucketCount: 10,
		buckets:     make(map[int64]int),
	}
}

func (w *slidingWindow) bucketSize() time.Duration {
	return w.size / time.Duration(w.bucketCount)
}

func (w *slidingWindow) bucketOf(t time.Time) int64 {
	return t.UnixNano() / int64(w.bucketSize())
}

// prune drops buckets that left the window.
func (w *slidingWindow) prune(now time.Time) {
	min := w.bucketOf(now) - int64(w.bucketCount)
	for b := range w.buckets {
		if b < min {
			delete(w.buckets, b)
		}
	}
}

func (w *slidingWindow) record(now time.Time) {
	w.prune(now)
	w.buckets[w.bucketOf(now)]++
}

func (w *slidingWindow) count(now time.Time) int {
	min := w.bucketOf(now) - int64(w.bucketCount)
	n := 0
	for b, c := range w.buckets {
		if b >= min {
			n += c
		}
	}
	return n
}

// retryAfter estimates how long until one more event fits under limit.
func (w *slidingWindow) retryAfter(now time.Time, limit int) time.Duration {
	current := w.count(now)
	if current < limit {
		return 0
	}
	min := w.bucketOf(now) - int64(w.bucketCount)
	live := make([]int64, 0, len(w.buckets))
	for b := range w.buckets {
		if b >= min {
			live = append(live, b)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	excess := current - limit + 1
	expired := 0
	bs := int64(w.bucketSize())
	for _, b := range live {
		expired += w.buckets[b]
		if expired >= excess {
			// Bucket b leaves the window once now passes its end plus the window.
			leaves := time.Unix(0, (b+1)*bs).Add(w.size)
			if d := leaves.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	return w.size
}

// =============================================================================
// Call Limiter
// =============================================================================

type windowKey struct {
	role   envelope.Role
	window string
}

// CallLimiter enforces CallLimitConfig per role.
// Thread-safe.
type CallLimiter struct {
	cfg     CallLimitConfig
	clock   Clock
	windows map[windowKey]*slidingWindow
	mu      sync.Mutex
}

// NewCallLimiter creates a limiter. A nil clock uses the wall clock.
func NewCallLimiter(cfg CallLimitConfig, clock Clock) *CallLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	return &CallLimiter{
		cfg:     cfg,
		clock:   clock,
		windows: make(map[windowKey]*slidingWindow),
	}
}

type windowCheck struct {
	name  string
	size  time.Duration
	limit int
}

func (l *CallLimiter) checks() []windowCheck {
	return []windowCheck{
		{"minute", time.Minute, l.cfg.PerMinute},
		{"hour", time.Hour, l.cfg.PerHour},
	}
}

func (l *CallLimiter) windowLocked(role envelope.Role, c windowCheck) *slidingWindow {
	key := windowKey{role, c.name}
	w, ok := l.windows[key]
	if !ok {
		w = newSlidingWindow(c.size)
		l.windows[key] = w
	}
	return w
}

// Allow records one call for role, or returns a *RateLimitedError without
// recording anything if a window is full.
func (l *CallLimiter) Allow(role envelope.Role) error {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.checks() {
		if c.limit <= 0 {
			continue
		}
		w := l.windowLocked(role, c)
		if current := w.count(now); current >= c.limit {
			return &RateLimitedError{
				Role:       role,
				Window:     c.name,
				Current:    current,
				Limit:      c.limit,
				RetryAfter: w.retryAfter(now, c.limit),
			}
		}
	}
	for _, c := range l.checks() {
		if c.limit > 0 {
			l.windowLocked(role, c).record(now)
		}
	}
	return nil
}

// Usage returns the current count per window for role.
func (l *CallLimiter) Usage(role envelope.Role) map[string]int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	usage := make(map[string]int)
	for _, c := range l.checks() {
		if w, ok := l.windows[windowKey{role, c.name}]; ok {
			usage[c.name] = w.count(now)
		} else {
			usage[c.name] = 0
		}
	}
	return usage
}

// Reset forgets every window of role.
func (l *CallLimiter) Reset(role envelope.Role) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.windows {
		if key.role == role {
			delete(l.windows, key)
		}
	}
}

// =============================================================================
// Limited Reasoner
// =============================================================================

// LimitReasoner wraps r so every call is charged against limiter. A refused
// call fails like any other processing failure and the envelope is requeued.
func LimitReasoner(r Reasoner, limiter *CallLimiter) Reasoner {
	return ReasonerFunc(func(ctx context.Context, env *envelope.Envelope, rc RoleContext) (*Outcome, error) {
		if err := limiter.Allow(rc.Role); err != nil {
			return nil, err
		}
		return r.Process(ctx, env, rc)
	})
}
