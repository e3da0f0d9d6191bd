package connection

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrStaleConnection  = errors.New("connection stale (no ping)")
	ErrAlreadyOpened    = errors.New("already opened")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrClosedBeforeOpen = errors.New("closed before the connection was established")
	ErrAbnormalClosure  = errors.New("connection closed abnormally")
)

// Close codes reported in CloseEvent.
const (
	CloseNormal   = 1000
	CloseNoStatus = 1005
	CloseAbnormal = 1006
)

// ReadyState mirrors the four states of a WebSocket handle.
type ReadyState int

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (s ReadyState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// EventKind identifies one of the four lifecycle events.
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners registered for its Kind.
type Event interface {
	Kind() EventKind
}

// Listener observes events of one kind.
type Listener func(Event)

// OpenEvent fires once the handshake completes.
type OpenEvent struct {
	URL string
	At  time.Time
}

// MessageEvent carries one inbound message, passed through unexamined.
type MessageEvent struct {
	Data       []byte
	Binary     bool
	ReceivedAt time.Time
}

// ErrorEvent reports a connection failure. A CloseEvent always follows.
type ErrorEvent struct {
	Err error
	At  time.Time
}

// CloseEvent is the last event a connection emits.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
	At       time.Time
}

func (OpenEvent) Kind() EventKind    { return EventOpen }
func (MessageEvent) Kind() EventKind { return EventMessage }
func (ErrorEvent) Kind() EventKind   { return EventError }
func (CloseEvent) Kind() EventKind   { return EventClose }

func (e OpenEvent) KindName() string    { return e.Kind().String() }
func (e MessageEvent) KindName() string { return e.Kind().String() }
func (e ErrorEvent) KindName() string   { return e.Kind().String() }
func (e CloseEvent) KindName() string   { return e.Kind().String() }

func (e OpenEvent) LogValue() slog.Value {
	return slog.GroupValue(slog.String("url", e.URL))
}

func (e MessageEvent) LogValue() slog.Value {
	if e.Binary {
		return slog.GroupValue(
			slog.Bool("binary", true),
			slog.Int("bytes", len(e.Data)),
		)
	}
	return slog.GroupValue(slog.String("data", string(e.Data)))
}

func (e ErrorEvent) LogValue() slog.Value {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return slog.GroupValue(slog.String("err", msg))
}

func (e CloseEvent) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("code", e.Code),
		slog.String("reason", e.Reason),
		slog.Bool("was_clean", e.WasClean),
	)
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://localhost:3000)
	Header           http.Header   // Extra handshake headers (nil = none)
	HandshakeTimeout time.Duration // Dial + handshake limit
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	CloseTimeout     time.Duration // How long Close waits for the peer's close frame
	PingInterval     time.Duration // Keepalive ping period (0 = no pings)
	PingTimeout      time.Duration // Max time without ping/pong before the connection is stale (0 = never)
	ReadLimit        int64         // Max inbound message size (0 = unlimited)
	QueueSize        int           // Initial event queue capacity
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		CloseTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		QueueSize:        64,
	}
}
