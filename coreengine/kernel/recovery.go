package kernel

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ErrPanicRecovered is matched by PanicError.
var ErrPanicRecovered = errors.New("panic recovered")

// PanicError wraps a recovered panic value and its stack.
type PanicError struct {
	Operation string
	Value     any
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrPanicRecovered
}

func recovered(logger Logger, event, operation string, r any) *PanicError {
	stack := string(debug.Stack())
	if logger != nil {
		logger.Error(event,
			"operation", operation,
			"panic", fmt.Sprintf("%v", r),
			"stack", stack,
		)
	}
	return &PanicError{Operation: operation, Value: r, Stack: stack}
}

// SafeExecute runs fn and converts a panic into a *PanicError.
func SafeExecute(logger Logger, operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = recovered(logger, "panic_recovered", operation, r)
		}
	}()
	return fn()
}

// SafeExecuteWithResult is SafeExecute for functions that return a value.
func SafeExecuteWithResult[T any](logger Logger, operation string, fn func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = recovered(logger, "panic_recovered", operation, r)
		}
	}()
	return fn()
}

// SafeGo runs fn in a goroutine. A panic is logged and passed to onPanic.
func SafeGo(logger Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				_ = recovered(logger, "goroutine_panic_recovered", operation, r)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
