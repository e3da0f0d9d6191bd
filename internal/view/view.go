package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/rickgao/wsdemo/internal/connection"
	"github.com/rickgao/wsdemo/internal/metrics"
	"github.com/rickgao/wsdemo/internal/sink"
)

// Endpoint is the fixed local address the view connects to.
const Endpoint = "ws://localhost:3000"

// OpenedMessage is reported to the sink when the connection opens.
const OpenedMessage = "Opened!"

// ErrUnmounted is returned by Mount once the view has been unmounted.
var ErrUnmounted = errors.New("view already unmounted")

// Socket is the part of a connection handle the view needs.
// connection.Client satisfies it.
type Socket interface {
	On(kind connection.EventKind, l connection.Listener)
	Open(ctx context.Context) error
	Close() error
	Done() <-chan struct{}
}

// Opener creates an unopened connection handle for url.
type Opener func(url string) Socket

// DefaultOpener opens real WebSocket clients configured by cfg.
func DefaultOpener(cfg connection.ClientConfig, logger *slog.Logger) Opener {
	return func(url string) Socket {
		c := cfg
		c.URL = url
		return connection.NewClient(c, logger)
	}
}

// ConnectionDemoView opens one connection when mounted, reports its
// lifecycle to a diagnostic sink and renders an empty container.
type ConnectionDemoView struct {
	sink    sink.Sink
	open    Opener
	logger  *slog.Logger
	metrics *metrics.Metrics
	session uuid.UUID

	mu        sync.Mutex
	mounted   bool
	unmounted bool
	socket    Socket
}

// Option customizes a ConnectionDemoView.
type Option func(*ConnectionDemoView)

// WithSink sets the diagnostic sink. Defaults to a Console on the logger.
func WithSink(s sink.Sink) Option {
	return func(v *ConnectionDemoView) { v.sink = s }
}

// WithOpener sets how the connection handle is created.
func WithOpener(o Opener) Option {
	return func(v *ConnectionDemoView) { v.open = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *ConnectionDemoView) { v.logger = l }
}

// WithMetrics counts observed events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *ConnectionDemoView) { v.metrics = m }
}

// WithSessionID tags the view's logs with id instead of a random one.
func WithSessionID(id uuid.UUID) Option {
	return func(v *ConnectionDemoView) { v.session = id }
}

// New creates an unmounted view.
func New(opts ...Option) *ConnectionDemoView {
	v := &ConnectionDemoView{}
	for _, opt := range opts {
		opt(v)
	}

	if v.logger == nil {
		v.logger = slog.Default()
	}
	if v.session == uuid.Nil {
		v.session = uuid.New()
	}
	v.logger = v.logger.With("component", "connection_demo_view", "session", v.session)

	if v.sink == nil {
		v.sink = sink.NewConsole(v.logger)
	}
	if v.open == nil {
		v.open = DefaultOpener(connection.DefaultClientConfig(), v.logger)
	}
	return v
}

// Session returns the id tagging this view's logs.
func (v *ConnectionDemoView) Session() uuid.UUID {
	return v.session
}

// Mount opens the connection. Only the first call per view does anything.
// Connection failures are reported to the sink, never returned.
func (v *ConnectionDemoView) Mount(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.unmounted {
		return ErrUnmounted
	}
	if v.mounted {
		return nil
	}
	v.mounted = true

	socket := v.open(Endpoint)
	socket.On(connection.EventOpen, func(connection.Event) {
		v.sink.Info(OpenedMessage)
	})
	socket.On(connection.EventMessage, func(ev connection.Event) {
		v.sink.Info(ev)
	})
	socket.On(connection.EventError, func(ev connection.Event) {
		v.sink.Error(ev)
	})
	socket.On(connection.EventClose, func(ev connection.Event) {
		v.sink.Info(ev)
	})
	if v.metrics != nil {
		for _, kind := range []connection.EventKind{
			connection.EventOpen, connection.EventMessage, connection.EventError, connection.EventClose,
		} {
			socket.On(kind, func(ev connection.Event) { v.metrics.ViewEvent(ev.Kind().String()) })
		}
	}
	v.socket = socket

	v.logger.Debug("mounting", "endpoint", Endpoint)
	if err := socket.Open(ctx); err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	return nil
}

// Unmount closes the connection and waits for its close event to be
// reported, or for ctx to expire. It is idempotent.
func (v *ConnectionDemoView) Unmount(ctx context.Context) error {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return nil
	}
	v.unmounted = true
	socket := v.socket
	v.mu.Unlock()

	if socket == nil {
		return nil
	}

	v.logger.Debug("unmounting")
	if err := socket.Close(); err != nil {
		return fmt.Errorf("close connection: %w", err)
	}

	select {
	case <-socket.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Render returns the view's output: a single empty container element.
func (v *ConnectionDemoView) Render() *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     atom.Div.String(),
		DataAtom: atom.Div,
	}
}

// RenderHTML writes the rendered output as HTML.
func (v *ConnectionDemoView) RenderHTML(w io.Writer) error {
	return html.Render(w, v.Render())
}
