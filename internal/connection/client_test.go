package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.CloseTimeout = time.Second
	cfg.PingInterval = 0
	return cfg
}

// eventLog records events in dispatch order.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) attach(c Client) {
	for _, kind := range []EventKind{EventOpen, EventMessage, EventError, EventClose} {
		c.On(kind, l.add)
	}
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind()
	}
	return out
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func waitDone(t *testing.T, c Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for close event")
	}
}

// readUntilClosed keeps the server side open until the client goes away.
func readUntilClosed(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClient_OpenAndClose(t *testing.T) {
	server := mockWSServer(t, readUntilClosed)
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	log := &eventLog{}
	log.attach(client)

	assert.Equal(t, Connecting, client.State())
	require.NoError(t, client.Open(context.Background()))

	require.Eventually(t, func() bool { return client.State() == Open }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	waitDone(t, client)

	assert.Equal(t, Closed, client.State())
	assert.Equal(t, []EventKind{EventOpen, EventClose}, log.kinds())

	closeEv := log.last().(CloseEvent)
	assert.Equal(t, CloseNormal, closeEv.Code)
	assert.True(t, closeEv.WasClean)
}

func TestClient_Messages(t *testing.T) {
	testMessages := []string{
		`{"type": "test", "data": 1}`,
		`{"type": "test", "data": 2}`,
		`{"type": "test", "data": 3}`,
	}

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)

	var mu sync.Mutex
	var received []MessageEvent
	client.On(EventMessage, func(ev Event) {
		mu.Lock()
		received = append(received, ev.(MessageEvent))
		mu.Unlock()
	})

	require.NoError(t, client.Open(context.Background()))
	defer client.Close()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 4
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, want := range testMessages {
		assert.Equal(t, want, string(received[i].Data))
		assert.False(t, received[i].Binary)
		assert.False(t, received[i].ReceivedAt.IsZero())
	}
	assert.True(t, received[3].Binary)
	assert.Equal(t, []byte{0x01, 0x02}, received[3].Data)
}

func TestClient_Send(t *testing.T) {
	got := make(chan string, 1)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		got <- string(msg)
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	require.NoError(t, client.Open(context.Background()))
	defer client.Close()

	require.Eventually(t, func() bool { return client.State() == Open }, time.Second, 5*time.Millisecond)
	require.NoError(t, client.Send([]byte("hello")))

	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testConfig("ws://localhost:12345"), nil)

	assert.ErrorIs(t, client.Send([]byte("test")), ErrNotConnected)
}

func TestClient_ServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	log := &eventLog{}
	log.attach(client)

	require.NoError(t, client.Open(context.Background()))
	waitDone(t, client)

	assert.Equal(t, []EventKind{EventOpen, EventClose}, log.kinds())
	closeEv := log.last().(CloseEvent)
	assert.Equal(t, websocket.CloseGoingAway, closeEv.Code)
	assert.Equal(t, "bye", closeEv.Reason)
	assert.True(t, closeEv.WasClean)
}

func TestClient_AbruptDisconnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	log := &eventLog{}
	log.attach(client)

	require.NoError(t, client.Open(context.Background()))
	waitDone(t, client)

	assert.Equal(t, []EventKind{EventOpen, EventError, EventClose}, log.kinds())
	closeEv := log.last().(CloseEvent)
	assert.Equal(t, CloseAbnormal, closeEv.Code)
	assert.False(t, closeEv.WasClean)
}

func TestClient_DialFailure(t *testing.T) {
	// Grab a free port, then release it so nothing is listening.
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	client := NewClient(testConfig(url), nil)
	log := &eventLog{}
	log.attach(client)

	require.NoError(t, client.Open(context.Background()))
	waitDone(t, client)

	assert.Equal(t, []EventKind{EventError, EventClose}, log.kinds())
	assert.Equal(t, Closed, client.State())
	assert.Equal(t, CloseAbnormal, log.last().(CloseEvent).Code)
}

func TestClient_HandshakeRejected(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	var errEv ErrorEvent
	client.On(EventError, func(ev Event) { errEv = ev.(ErrorEvent) })

	require.NoError(t, client.Open(context.Background()))
	waitDone(t, client)

	require.Error(t, errEv.Err)
	assert.ErrorIs(t, errEv.Err, websocket.ErrBadHandshake)
	assert.Contains(t, errEv.Err.Error(), "404")
}

func TestClient_CloseWhileConnecting(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(testConfig(wsURL(server)), nil)
	log := &eventLog{}
	log.attach(client)

	require.NoError(t, client.Open(context.Background()))
	require.NoError(t, client.Close())
	waitDone(t, client)

	assert.Equal(t, []EventKind{EventError, EventClose}, log.kinds())
}

func TestClient_CloseBeforeOpen(t *testing.T) {
	client := NewClient(testConfig("ws://localhost:12345"), nil)

	require.NoError(t, client.Close())
	waitDone(t, client)
	assert.Equal(t, Closed, client.State())
	assert.ErrorIs(t, client.Open(context.Background()), ErrAlreadyClosed)
}

func TestClient_DoubleOpenAndClose(t *testing.T) {
	server := mockWSServer(t, readUntilClosed)
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	require.NoError(t, client.Open(context.Background()))
	assert.ErrorIs(t, client.Open(context.Background()), ErrAlreadyOpened)

	require.Eventually(t, func() bool { return client.State() == Open }, time.Second, 5*time.Millisecond)
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	waitDone(t, client)
}

func TestClient_ListenerPanicIsContained(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte("boom"))
		readUntilClosed(conn)
	})
	defer server.Close()

	client := NewClient(testConfig(wsURL(server)), nil)
	client.On(EventMessage, func(Event) { panic("listener failure") })

	log := &eventLog{}
	log.attach(client)

	require.NoError(t, client.Open(context.Background()))
	require.Eventually(t, func() bool { return len(log.kinds()) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, client.Close())
	waitDone(t, client)
	assert.Equal(t, []EventKind{EventOpen, EventMessage, EventClose}, log.kinds())
}

func TestClient_StaleConnection(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		// Swallow pings so no pong is ever sent.
		conn.SetPingHandler(func(string) error { return nil })
		readUntilClosed(conn)
	})
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 50 * time.Millisecond

	client := NewClient(cfg, nil)
	var errEv ErrorEvent
	client.On(EventError, func(ev Event) { errEv = ev.(ErrorEvent) })

	require.NoError(t, client.Open(context.Background()))
	waitDone(t, client)

	assert.ErrorIs(t, errEv.Err, ErrStaleConnection)
}

func TestEventKindAndState_String(t *testing.T) {
	assert.Equal(t, "open", EventOpen.String())
	assert.Equal(t, "close", CloseEvent{}.KindName())
	assert.Equal(t, "closing", Closing.String())
}
