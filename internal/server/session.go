package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/wsdemo/internal/frame"
	"github.com/rickgao/wsdemo/internal/protocol"
)

// Session errors
var (
	ErrSessionClosed          = errors.New("session closed")
	ErrUnexpectedContinuation = errors.New("continuation frame without a message in progress")
	ErrExpectedContinuation   = errors.New("data frame while a fragmented message is in progress")
)

// errPeerClosed ends the read loop after a close handshake.
var errPeerClosed = errors.New("peer sent close")

// session is one accepted connection. Its read loop runs on a pool worker;
// writes may come from any goroutine through WriteFrame.
type session struct {
	id     uuid.UUID
	conn   net.Conn
	remote string
	srv    *Server
	logger *slog.Logger

	opened atomic.Bool

	writeMu sync.Mutex
	closed  bool // close frame sent

	// message reassembly, owned by the read loop
	partialOp  frame.Opcode
	partial    []byte
	fragmented bool
}

func newSession(srv *Server, conn net.Conn) *session {
	id := uuid.New()
	remote := conn.RemoteAddr().String()
	return &session{
		id:     id,
		conn:   conn,
		remote: remote,
		srv:    srv,
		logger: srv.logger.With("session", id, "remote_addr", remote),
	}
}

func (s *session) ID() uuid.UUID      { return s.id }
func (s *session) RemoteAddr() string { return s.remote }

// WriteFrame encodes and writes f unmasked.
func (s *session) WriteFrame(f frame.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	return s.write(f)
}

// write must be called with writeMu held.
func (s *session) write(f frame.Frame) error {
	if t := s.srv.cfg.WriteTimeout; t > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(t))
	}
	_, err := s.conn.Write(frame.Encode(f, nil))
	return err
}

// sendClose writes a close frame once. Later writes fail with ErrSessionClosed.
func (s *session) sendClose(code uint16, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.write(frame.Frame{Fin: true, Opcode: frame.OpClose, Payload: frame.ClosePayload(code, reason)})
}

// shutdown tells an open peer the server is going away and drops the
// connection, which ends the read loop.
func (s *session) shutdown() {
	if s.opened.Load() {
		if err := s.sendClose(frame.CloseGoingAway, "server shutting down"); err != nil {
			s.logger.Debug("close frame not sent", "error", err)
		}
	}
	s.conn.Close()
}

// serve runs the session to completion: handshake, then the read loop.
func (s *session) serve() {
	defer s.conn.Close()

	br := bufio.NewReaderSize(s.conn, s.srv.cfg.ReadBufferSize)
	if !s.handshake(br) {
		return
	}

	s.srv.metrics.SessionOpened()
	defer s.srv.metrics.SessionClosed()
	s.srv.hub.Register(s)
	defer s.srv.hub.Unregister(s)

	if err := s.readLoop(br); err != nil {
		s.logger.Warn("session ended with error", "error", err)
		return
	}
	s.logger.Debug("session ended")
}

func (s *session) handshake(br *bufio.Reader) bool {
	s.conn.SetDeadline(time.Now().Add(s.srv.cfg.HandshakeTimeout))

	req, err := protocol.ReadUpgradeRequest(br)
	if err != nil {
		s.srv.metrics.HandshakeFailed()
		s.logger.Warn("handshake rejected", "error", err)
		if werr := protocol.WriteReject(s.conn, err); werr != nil {
			s.logger.Debug("reject response not sent", "error", werr)
		}
		return false
	}

	s.writeMu.Lock()
	_, err = protocol.Shake(req).WriteTo(s.conn)
	if err == nil {
		s.opened.Store(true)
	}
	s.writeMu.Unlock()
	if err != nil {
		s.srv.metrics.HandshakeFailed()
		s.logger.Warn("handshake response failed", "error", err)
		return false
	}

	s.conn.SetDeadline(time.Time{})
	s.logger.Info("websocket opened", "path", req.Path, "host", req.Host)
	return true
}

// readLoop reads ReadBufferSize chunks and feeds the frame parser until
// the peer closes, the connection fails or a protocol error occurs.
func (s *session) readLoop(r io.Reader) error {
	parser := frame.NewParser(frame.ReceiverFunc(s.handleFrame), uint64(s.srv.cfg.MaxMessageSize))
	parser.RequireMask()
	buf := make([]byte, s.srv.cfg.ReadBufferSize)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := parser.Feed(buf[:n]); err != nil {
				return s.fail(err)
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", readErr)
		}
	}
}

// fail maps a parse or handling error to the close code sent to the peer.
func (s *session) fail(err error) error {
	if errors.Is(err, errPeerClosed) {
		return nil
	}

	var code uint16
	switch {
	case errors.Is(err, frame.ErrPayloadTooLarge):
		code = frame.CloseMessageTooBig
	case isProtocolError(err):
		code = frame.CloseProtocolError
	default:
		return err
	}

	if cerr := s.sendClose(code, ""); cerr != nil {
		s.logger.Debug("close frame not sent", "error", cerr)
	}
	return fmt.Errorf("protocol violation: %w", err)
}

func isProtocolError(err error) bool {
	for _, target := range []error{
		frame.ErrReservedBits,
		frame.ErrUnknownOpcode,
		frame.ErrInvalidControl,
		frame.ErrInvalidLength,
		frame.ErrInvalidClosePayload,
		frame.ErrUnmasked,
		ErrUnexpectedContinuation,
		ErrExpectedContinuation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *session) handleFrame(f frame.Frame) error {
	s.srv.metrics.FrameReceived(f.Opcode.String())

	switch f.Opcode {
	case frame.OpPing:
		if err := s.WriteFrame(frame.Frame{Fin: true, Opcode: frame.OpPong, Payload: f.Payload}); err != nil {
			return fmt.Errorf("write pong: %w", err)
		}
		return nil

	case frame.OpPong:
		return nil

	case frame.OpClose:
		code, reason, err := frame.ParseClose(f.Payload)
		if err != nil {
			return err
		}
		s.logger.Debug("peer closed", "code", code, "reason", reason)
		if err := s.sendClose(code, reason); err != nil {
			return fmt.Errorf("write close: %w", err)
		}
		return errPeerClosed

	case frame.OpText, frame.OpBinary:
		if s.fragmented {
			return ErrExpectedContinuation
		}
		if f.Fin {
			s.srv.hub.Broadcast(f.Opcode, f.Payload)
			return nil
		}
		s.fragmented = true
		s.partialOp = f.Opcode
		s.partial = append([]byte(nil), f.Payload...)
		return nil

	case frame.OpContinuation:
		if !s.fragmented {
			return ErrUnexpectedContinuation
		}
		if len(s.partial)+len(f.Payload) > s.srv.cfg.MaxMessageSize {
			return frame.ErrPayloadTooLarge
		}
		s.partial = append(s.partial, f.Payload...)
		if !f.Fin {
			return nil
		}
		s.srv.hub.Broadcast(s.partialOp, s.partial)
		s.fragmented = false
		s.partial = nil
		return nil
	}

	return frame.ErrUnknownOpcode
}
