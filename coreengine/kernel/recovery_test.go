package kernel

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// testLogger captures log calls as "LEVEL: msg" lines.
type testLogger struct {
	logs []string
	mu   sync.Mutex
}

func (l *testLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, level+": "+msg)
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) { l.add("DEBUG", msg) }
func (l *testLogger) Info(msg string, keysAndValues ...any)  { l.add("INFO", msg) }
func (l *testLogger) Warn(msg string, keysAndValues ...any)  { l.add("WARN", msg) }
func (l *testLogger) Error(msg string, keysAndValues ...any) { l.add("ERROR", msg) }

func (l *testLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.logs {
		if strings.HasSuffix(line, ": "+msg) {
			return true
		}
	}
	return false
}

func TestSafeExecute_Success(t *testing.T) {
	logger := &testLogger{}

	err := SafeExecute(logger, "test_operation", func() error {
		return nil
	})

	assert.NoError(t, err)
}

func TestSafeExecute_Error(t *testing.T) {
	logger := &testLogger{}
	expectedErr := errors.New("test error")

	err := SafeExecute(logger, "test_operation", func() error {
		return expectedErr
	})

	assert.Equal(t, expectedErr, err)
}

func TestSafeExecute_Panic(t *testing.T) {
	logger := &testLogger{}

	err := SafeExecute(logger, "test_operation", func() error {
		panic("test panic")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panic in test_operation")
	assert.Contains(t, err.Error(), "test panic")
	assert.ErrorIs(t, err, ErrPanicRecovered)

	var pe *PanicError
	if assert.True(t, errors.As(err, &pe)) {
		assert.Equal(t, "test_operation", pe.Operation)
		assert.NotEmpty(t, pe.Stack)
	}

	assert.True(t, logger.has("panic_recovered"))
}

func TestSafeExecute_NilLogger(t *testing.T) {
	// Should not panic even with nil logger
	err := SafeExecute(nil, "test_operation", func() error {
		panic("test panic")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestSafeExecuteWithResult_Success(t *testing.T) {
	logger := &testLogger{}

	result, err := SafeExecuteWithResult(logger, "test_operation", func() (int, error) {
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestSafeExecuteWithResult_Error(t *testing.T) {
	logger := &testLogger{}
	expectedErr := errors.New("test error")

	result, err := SafeExecuteWithResult(logger, "test_operation", func() (int, error) {
		return 0, expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Equal(t, 0, result)
}

func TestSafeExecuteWithResult_Panic(t *testing.T) {
	logger := &testLogger{}

	result, err := SafeExecuteWithResult(logger, "test_operation", func() (string, error) {
		panic("test panic")
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panic in test_operation")
	assert.Equal(t, "", result) // Zero value for string
}

func TestSafeExecuteWithResult_StringResult(t *testing.T) {
	logger := &testLogger{}

	result, err := SafeExecuteWithResult(logger, "test_operation", func() (string, error) {
		return "hello", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "hello", result)
}

func TestSafeGo_Success(t *testing.T) {
	logger := &testLogger{}
	var wg sync.WaitGroup
	wg.Add(1)

	executed := false
	SafeGo(logger, "test_goroutine", func() {
		executed = true
		wg.Done()
	}, nil)

	wg.Wait()
	assert.True(t, executed)
}

func TestSafeGo_Panic(t *testing.T) {
	logger := &testLogger{}
	var wg sync.WaitGroup
	wg.Add(1)

	var recoveredValue any
	SafeGo(logger, "test_goroutine", func() {
		defer wg.Done()
		panic("goroutine panic")
	}, func(r any) {
		recoveredValue = r
	})

	wg.Wait()
	time.Sleep(10 * time.Millisecond) // Give time for logging

	assert.Equal(t, "goroutine panic", recoveredValue)

	assert.True(t, logger.has("goroutine_panic_recovered"))
}

func TestSafeGo_PanicNilCallback(t *testing.T) {
	logger := &testLogger{}
	done := make(chan struct{})

	SafeGo(logger, "test_goroutine", func() {
		defer close(done)
		panic("goroutine panic")
	}, nil) // nil callback

	<-done
	time.Sleep(10 * time.Millisecond)

	assert.True(t, logger.has("goroutine_panic_recovered"))
}

func TestSafeGo_NilLogger(t *testing.T) {
	done := make(chan struct{})

	// Should not panic even with nil logger
	SafeGo(nil, "test_goroutine", func() {
		defer close(done)
		panic("goroutine panic")
	}, func(r any) {
		// Callback should still be called
		assert.Equal(t, "goroutine panic", r)
	})

	<-done
}
