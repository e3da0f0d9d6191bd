package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/wsdemo/internal/buffer"
	"github.com/rickgao/wsdemo/internal/connection"
	"github.com/rickgao/wsdemo/internal/sink"
)

func newTestSink() (*Sink, *sink.Recorder, *buffer.Growable[Entry], uuid.UUID) {
	rec := sink.NewRecorder()
	out := buffer.New[Entry](4)
	session := uuid.New()
	s := NewSink(rec, session, out)
	s.now = func() time.Time { return time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC) }
	return s, rec, out, session
}

func TestSink_ForwardsCalls(t *testing.T) {
	s, rec, _, _ := newTestSink()

	ev := connection.ErrorEvent{Err: errors.New("refused")}
	s.Info("Opened!")
	s.Error(ev)

	assert.Equal(t, []sink.Call{
		{Level: sink.LevelInfo, Args: []any{"Opened!"}},
		{Level: sink.LevelError, Args: []any{ev}},
	}, rec.Calls())
}

func TestSink_RecordsMessage(t *testing.T) {
	s, _, out, session := newTestSink()

	s.Info("Opened!")

	e, ok := out.TryReceive()
	require.True(t, ok)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, session, e.Session)
	assert.Equal(t, sink.LevelInfo, e.Level)
	assert.Equal(t, "", e.Kind)
	assert.Equal(t, "Opened!", e.Message)
	assert.Empty(t, e.Detail)
	assert.Equal(t, 2024, e.At.Year())
}

func TestSink_RecordsEvents(t *testing.T) {
	tests := []struct {
		name   string
		call   func(*Sink)
		level  sink.Level
		kind   string
		detail any
	}{
		{
			name:   "message",
			call:   func(s *Sink) { s.Info(connection.MessageEvent{Data: []byte("hello")}) },
			level:  sink.LevelInfo,
			kind:   "message",
			detail: map[string]any{"data": "hello"},
		},
		{
			name:   "error",
			call:   func(s *Sink) { s.Error(connection.ErrorEvent{Err: errors.New("refused")}) },
			level:  sink.LevelError,
			kind:   "error",
			detail: map[string]any{"err": "refused"},
		},
		{
			name:   "close",
			call:   func(s *Sink) { s.Info(connection.CloseEvent{Code: 1006}) },
			level:  sink.LevelInfo,
			kind:   "close",
			detail: map[string]any{"code": int64(1006), "reason": "", "was_clean": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, out, _ := newTestSink()

			tt.call(s)

			e, ok := out.TryReceive()
			require.True(t, ok)
			assert.Equal(t, tt.level, e.Level)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.kind+" event", e.Message)
			assert.Equal(t, []any{tt.detail}, e.Detail)
		})
	}
}

func TestSink_ExtraArguments(t *testing.T) {
	s, _, out, _ := newTestSink()

	s.Error("dial failed", errors.New("timeout"), 3)

	e, ok := out.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "dial failed", e.Message)
	assert.Equal(t, []any{"timeout", int64(3)}, e.Detail)
}

func TestSink_ClosedBufferDropsEntries(t *testing.T) {
	s, rec, out, _ := newTestSink()
	out.Close()

	assert.NotPanics(t, func() { s.Info("late") })
	assert.Len(t, rec.Calls(), 1)
	assert.Equal(t, 0, out.Len())
}
