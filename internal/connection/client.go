package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/wsdemo/internal/buffer"
)

// Client is a single WebSocket connection with browser-style lifecycle
// events. Listeners run one at a time on a dedicated dispatch goroutine,
// in the order events occurred.
type Client interface {
	// On registers a listener for one event kind.
	On(kind EventKind, l Listener)

	// Open starts connecting in the background and returns immediately.
	// Failures are reported as error and close events, not as a return value.
	Open(ctx context.Context) error

	// Close starts the closing handshake. It does not wait; use Done.
	Close() error

	// Send writes a text message.
	Send(data []byte) error

	// State returns the current ready state.
	State() ReadyState

	// URL returns the target URL.
	URL() string

	// Done is closed after the close event has been dispatched.
	Done() <-chan struct{}
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	listenersMu sync.RWMutex
	listeners   map[EventKind][]Listener

	// Event queue drained by dispatchLoop
	events *buffer.Growable[Event]
	done   chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.Mutex
	state      ReadyState
	opened     bool
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	lastPingAt time.Time
	failure    error
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewClient creates a client in the Connecting state. No I/O happens until
// Open is called.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &client{
		cfg:       cfg,
		logger:    logger.With("url", cfg.URL),
		listeners: make(map[EventKind][]Listener),
		events:    buffer.New[Event](cfg.QueueSize),
		done:      make(chan struct{}),
		state:     Connecting,
		stop:      make(chan struct{}),
	}
}

// On registers a listener for one event kind.
func (c *client) On(kind EventKind, l Listener) {
	if l == nil {
		return
	}
	c.listenersMu.Lock()
	c.listeners[kind] = append(c.listeners[kind], l)
	c.listenersMu.Unlock()
}

// Open starts the dial and the dispatch goroutine.
func (c *client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	c.opened = true
	dialCtx, cancel := context.WithCancel(ctx)
	c.cancelDial = cancel
	c.mu.Unlock()

	go c.dispatchLoop()
	go c.connect(dialCtx, cancel)

	return nil
}

// Close starts the closing handshake.
func (c *client) Close() error {
	c.mu.Lock()
	switch c.state {
	case Closing, Closed:
		c.mu.Unlock()
		return nil

	case Connecting:
		if !c.opened {
			// Never opened: no events to deliver.
			c.state = Closed
			c.mu.Unlock()
			c.events.Close()
			close(c.done)
			return nil
		}
		c.state = Closing
		cancel := c.cancelDial
		c.mu.Unlock()

		// connect observes the state change and reports the failure.
		cancel()
		return nil
	}

	c.state = Closing
	conn := c.conn
	c.mu.Unlock()

	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout),
	)

	if err != nil {
		c.logger.Debug("failed to send close frame", "error", err)
		return conn.Close()
	}

	// readLoop sees the peer's close frame; force it if the peer never answers.
	timer := time.AfterFunc(c.cfg.CloseTimeout, func() {
		conn.Close()
	})
	go func() {
		<-c.stop
		timer.Stop()
	}()

	return nil
}

// Send writes a text message.
func (c *client) Send(data []byte) error {
	c.mu.Lock()
	if c.state != Open {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// State returns the current ready state.
func (c *client) State() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the target URL.
func (c *client) URL() string {
	return c.cfg.URL
}

// Done is closed after the close event has been dispatched.
func (c *client) Done() <-chan struct{} {
	return c.done
}

// connect dials and, on success, starts the read and heartbeat loops.
func (c *client) connect(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.mu.Lock()
	if err == nil && c.state == Connecting {
		c.conn = conn
		c.state = Open
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		c.startConnection(conn)
		return
	}

	abortedByClose := c.state == Closing
	c.state = Closed
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	switch {
	case abortedByClose:
		err = ErrClosedBeforeOpen
	case resp != nil:
		err = fmt.Errorf("dial %s: %w (status %s)", c.cfg.URL, err, resp.Status)
	default:
		err = fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.logger.Debug("websocket connect failed", "error", err)
	c.emit(ErrorEvent{Err: err, At: time.Now()})
	c.finish(CloseEvent{Code: CloseAbnormal, At: time.Now()})
}

func (c *client) startConnection(conn *websocket.Conn) {
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	// Peer sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()

		err := conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	// Peer responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	c.logger.Debug("websocket connected")
	c.emit(OpenEvent{URL: c.cfg.URL, At: time.Now()})

	go c.readLoop(conn)
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop(conn)
	}
}

func (c *client) touch() {
	c.mu.Lock()
	c.lastPingAt = time.Now()
	c.mu.Unlock()
}

// readLoop turns inbound messages into message events until the
// connection ends.
func (c *client) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.handleReadError(conn, err)
			return
		}

		c.emit(MessageEvent{
			Data:       data,
			Binary:     msgType == websocket.BinaryMessage,
			ReceivedAt: receivedAt,
		})
	}
}

func (c *client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	initiated := c.state == Closing
	failure := c.failure
	c.state = Closed
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
	conn.Close()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		c.logger.Debug("websocket closed", "code", closeErr.Code, "reason", closeErr.Text)
		c.finish(CloseEvent{
			Code:     closeErr.Code,
			Reason:   closeErr.Text,
			WasClean: true,
			At:       time.Now(),
		})
		return
	}

	switch {
	case failure != nil:
		c.emit(ErrorEvent{Err: failure, At: time.Now()})
	case !initiated:
		c.logger.Debug("websocket read failed", "error", err)
		c.emit(ErrorEvent{Err: fmt.Errorf("%w: %v", ErrAbnormalClosure, err), At: time.Now()})
	}
	c.finish(CloseEvent{Code: CloseAbnormal, At: time.Now()})
}

// heartbeatLoop sends keepalive pings and detects stale connections.
func (c *client) heartbeatLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			if c.cfg.PingTimeout <= 0 {
				continue
			}

			c.mu.Lock()
			lastPing := c.lastPingAt
			c.mu.Unlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				c.mu.Lock()
				c.failure = ErrStaleConnection
				c.mu.Unlock()

				// readLoop reports the failure once the read unblocks.
				conn.Close()
				return
			}
		}
	}
}

// emit queues an event for dispatch.
func (c *client) emit(ev Event) {
	if !c.events.Send(ev) {
		c.logger.Debug("event after close dropped", "kind", ev.Kind())
	}
}

// finish queues the final close event and stops the queue.
func (c *client) finish(ev CloseEvent) {
	c.emit(ev)
	c.events.Close()
}

// dispatchLoop delivers events to listeners serially.
func (c *client) dispatchLoop() {
	defer close(c.done)

	for {
		ev, ok := c.events.Receive()
		if !ok {
			return
		}
		c.dispatch(ev)
	}
}

func (c *client) dispatch(ev Event) {
	c.listenersMu.RLock()
	listeners := append([]Listener(nil), c.listeners[ev.Kind()]...)
	c.listenersMu.RUnlock()

	for _, l := range listeners {
		c.call(l, ev)
	}
}

func (c *client) call(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("listener panicked", "kind", ev.Kind(), "panic", r)
		}
	}()
	l(ev)
}
