package journal

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/wsdemo/internal/buffer"
	"github.com/rickgao/wsdemo/internal/sink"
)

// Sink forwards every call to an inner sink and queues a journal Entry.
type Sink struct {
	inner   sink.Sink
	session uuid.UUID
	out     *buffer.Growable[Entry]
	now     func() time.Time
}

// NewSink tags entries with session and queues them on out.
func NewSink(inner sink.Sink, session uuid.UUID, out *buffer.Growable[Entry]) *Sink {
	return &Sink{
		inner:   inner,
		session: session,
		out:     out,
		now:     time.Now,
	}
}

// Info forwards to the inner sink and records the call.
func (s *Sink) Info(args ...any) {
	s.inner.Info(args...)
	s.record(sink.LevelInfo, args)
}

// Error forwards to the inner sink and records the call.
func (s *Sink) Error(args ...any) {
	s.inner.Error(args...)
	s.record(sink.LevelError, args)
}

func (s *Sink) record(level sink.Level, args []any) {
	e := Entry{
		ID:      uuid.New(),
		Session: s.session,
		Level:   level,
		At:      s.now(),
	}

	rest := args
	if len(args) > 0 {
		switch v := args[0].(type) {
		case string:
			e.Message = v
			rest = args[1:]
		case sink.Kinded:
			e.Kind = v.KindName()
			e.Message = v.KindName() + " event"
		}
	}
	for _, arg := range rest {
		e.Detail = append(e.Detail, flatten(slog.AnyValue(arg)))
	}

	s.out.Send(e)
}

// flatten turns a log value into something encoding/json renders
// readably: groups become maps and errors become their message.
func flatten(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		m := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			m[a.Key] = flatten(a.Value)
		}
		return m
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.Any()
}
