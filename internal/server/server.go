package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/rickgao/wsdemo/internal/metrics"
	"github.com/rickgao/wsdemo/internal/pool"
)

// ErrServerClosed is returned by ListenAndServe after Close.
var ErrServerClosed = errors.New("server closed")

// Server accepts TCP connections and runs a WebSocket session for each.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	pool    *pool.Pool
	hub     *Hub

	mu       sync.Mutex
	listener net.Listener
	sessions map[*session]struct{}
	closed   bool
	ready    chan struct{}

	// closeDone is closed once Close has finished; closeErr is its result.
	closeDone chan struct{}
	closeErr  error
}

// New creates a server and starts its worker pool. m may be nil.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	p, err := pool.New(cfg.Workers, logger.With("component", "pool"))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Server{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		pool:      p,
		hub:       NewHub(logger, m),
		sessions:  make(map[*session]struct{}),
		ready:     make(chan struct{}),
		closeDone: make(chan struct{}),
	}, nil
}

// Hub returns the server's broadcast hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before the listener is up.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe binds the configured address and serves until ctx is
// cancelled or Close is called. It returns only after shutdown has
// finished, with Close's error (nil on a clean shutdown).
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Address(), err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	close(s.ready)
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String(), "workers", s.cfg.Workers)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return s.waitClosed()
			}
			return fmt.Errorf("accept: %w", err)
		}

		sess := newSession(s, conn)
		if !s.track(sess) {
			conn.Close()
			return s.waitClosed()
		}
		s.logger.Debug("connection accepted", "remote_addr", sess.remote)

		err = s.pool.Execute(func() {
			defer s.untrack(sess)
			sess.serve()
		})
		if err != nil {
			s.untrack(sess)
			conn.Close()
			if errors.Is(err, pool.ErrClosed) {
				return s.waitClosed()
			}
			return fmt.Errorf("schedule session: %w", err)
		}
	}
}

// Close stops accepting, tells every open peer the server is going away
// and waits for the workers to finish. Concurrent calls wait for the
// first to complete and share its result.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.waitClosed()
	}
	s.closed = true
	ln := s.listener
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	s.logger.Info("shutting down", "sessions", len(sessions))

	var errs []error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
	}
	for _, sess := range sessions {
		sess.shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown pool: %w", err))
	}

	s.closeErr = errors.Join(errs...)
	close(s.closeDone)
	return s.closeErr
}

// waitClosed blocks until Close has finished.
func (s *Server) waitClosed() error {
	<-s.closeDone
	return s.closeErr
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// track records a live session so Close can reach it. It reports false
// once the server is closed.
func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}
