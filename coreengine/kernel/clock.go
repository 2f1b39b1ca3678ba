package kernel

import (
	"context"
	"time"
)

// Clock is the time source for every wait in the runtime.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// RealClock uses the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// sleep waits for d on clock. Returns false if ctx or stop fired first.
func sleep(ctx context.Context, clock Clock, d time.Duration, stop <-chan struct{}) bool {
	select {
	case <-clock.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}

// runEvery calls fn every interval until ctx is cancelled or stop closes.
// A panic in fn is logged and the loop keeps going.
func runEvery(ctx context.Context, clock Clock, interval time.Duration, stop <-chan struct{},
	logger Logger, name string, fn func(context.Context)) {
	for {
		if !sleep(ctx, clock, interval, stop) {
			return
		}
		_ = SafeExecute(logger, name, func() error {
			fn(ctx)
			return nil
		})
	}
}

// untilStopped derives a context that is also cancelled when stop closes.
func untilStopped(ctx context.Context, stop <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
