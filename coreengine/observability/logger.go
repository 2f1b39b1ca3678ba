package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the process logger. Console output is human-readable;
// pass json=true for one JSON object per line.
func InitLogger(app, level string, json bool, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if !json {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// Logger adapts zerolog to the key/value Logger interfaces declared by the
// runtime packages.
type Logger struct {
	zl zerolog.Logger
}

// NewLogger wraps a zerolog logger.
func NewLogger(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// With returns a logger that adds the given fields to every event.
func (l *Logger) With(keysAndValues ...any) *Logger {
	ctx := l.zl.With()
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		ctx = ctx.Interface(fieldName(keysAndValues[i]), keysAndValues[i+1])
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) Debug(msg string, keysAndValues ...any) {
	emit(l.zl.Debug(), msg, keysAndValues)
}

func (l *Logger) Info(msg string, keysAndValues ...any) {
	emit(l.zl.Info(), msg, keysAndValues)
}

func (l *Logger) Warn(msg string, keysAndValues ...any) {
	emit(l.zl.Warn(), msg, keysAndValues)
}

func (l *Logger) Error(msg string, keysAndValues ...any) {
	emit(l.zl.Error(), msg, keysAndValues)
}

func emit(ev *zerolog.Event, msg string, keysAndValues []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fieldName(keysAndValues[i])
		if i+1 >= len(keysAndValues) {
			ev = ev.Str(key, "(missing)")
			break
		}
		switch v := keysAndValues[i+1].(type) {
		case string:
			ev = ev.Str(key, v)
		case int:
			ev = ev.Int(key, v)
		case int64:
			ev = ev.Int64(key, v)
		case bool:
			ev = ev.Bool(key, v)
		case error:
			ev = ev.AnErr(key, v)
		case time.Duration:
			ev = ev.Dur(key, v)
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func fieldName(k any) string {
	if s, ok := k.(string); ok {
		return s
	}
	return fmt.Sprint(k)
}
