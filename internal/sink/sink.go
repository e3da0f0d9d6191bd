// Package sink provides the diagnostic sink that lifecycle observers
// report to, in place of a process-wide console.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Sink accepts arbitrary diagnostic values.
type Sink interface {
	Info(args ...any)
	Error(args ...any)
}

// Kinded is implemented by values that name their own kind, such as
// connection events. Console uses it to build the log message.
type Kinded interface {
	KindName() string
}

// Console writes diagnostics to a slog.Logger.
type Console struct {
	logger *slog.Logger
}

// NewConsole creates a Console. A nil logger uses slog.Default().
func NewConsole(logger *slog.Logger) *Console {
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{logger: logger}
}

// Info logs args at info level.
func (c *Console) Info(args ...any) {
	c.log(slog.LevelInfo, args)
}

// Error logs args at error level.
func (c *Console) Error(args ...any) {
	c.log(slog.LevelError, args)
}

func (c *Console) log(level slog.Level, args []any) {
	ctx := context.Background()
	if !c.logger.Enabled(ctx, level) {
		return
	}

	msg := ""
	rest := args
	if len(args) > 0 {
		switch v := args[0].(type) {
		case string:
			msg = v
			rest = args[1:]
		case Kinded:
			msg = v.KindName() + " event"
		}
	}

	attrs := make([]slog.Attr, 0, len(rest))
	for _, arg := range rest {
		key := "arg"
		if _, ok := arg.(Kinded); ok {
			key = "event"
		}
		attrs = append(attrs, slog.Any(key, arg))
	}

	c.logger.LogAttrs(ctx, level, msg, attrs...)
}

// Level distinguishes Info from Error calls.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Call is one recorded sink invocation.
type Call struct {
	Level Level
	Args  []any
}

// String renders the call's arguments the way fmt.Sprint would.
func (c Call) String() string {
	return fmt.Sprint(c.Args...)
}

// Recorder captures every call for later inspection.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Info records an info call.
func (r *Recorder) Info(args ...any) {
	r.record(LevelInfo, args)
}

// Error records an error call.
func (r *Recorder) Error(args ...any) {
	r.record(LevelError, args)
}

func (r *Recorder) record(level Level, args []any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Level: level, Args: append([]any(nil), args...)})
}

// Calls returns a copy of all recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsAt returns the recorded calls at the given level.
func (r *Recorder) CallsAt(level Level) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Call
	for _, c := range r.calls {
		if c.Level == level {
			out = append(out, c)
		}
	}
	return out
}

// Multi forwards every call to each sink in order.
type Multi []Sink

// Info forwards to every sink.
func (m Multi) Info(args ...any) {
	for _, s := range m {
		s.Info(args...)
	}
}

// Error forwards to every sink.
func (m Multi) Error(args ...any) {
	for _, s := range m {
		s.Error(args...)
	}
}
