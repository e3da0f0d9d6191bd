package server

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/wsdemo/internal/frame"
	"github.com/rickgao/wsdemo/internal/metrics"
)

// Peer is an open connection the hub can write to.
type Peer interface {
	ID() uuid.UUID
	RemoteAddr() string
	WriteFrame(f frame.Frame) error
}

// Hub tracks open peers and relays messages to all of them.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	peers map[uuid.UUID]Peer
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:  logger,
		metrics: m,
		peers:   make(map[uuid.UUID]Peer),
	}
}

// Register adds p to the broadcast set.
func (h *Hub) Register(p Peer) {
	h.mu.Lock()
	h.peers[p.ID()] = p
	n := len(h.peers)
	h.mu.Unlock()

	h.logger.Info("peer registered", "peer", p.ID(), "remote_addr", p.RemoteAddr(), "peers", n)
}

// Unregister removes p. Unknown peers are ignored.
func (h *Hub) Unregister(p Peer) {
	h.mu.Lock()
	_, ok := h.peers[p.ID()]
	delete(h.peers, p.ID())
	n := len(h.peers)
	h.mu.Unlock()

	if ok {
		h.logger.Info("peer unregistered", "peer", p.ID(), "remote_addr", p.RemoteAddr(), "peers", n)
	}
}

// Len returns the number of registered peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Broadcast writes one unfragmented message to every peer and returns how
// many writes succeeded. A failed write is logged and skipped; the peer's
// own read loop notices the broken connection.
func (h *Hub) Broadcast(op frame.Opcode, payload []byte) int {
	h.mu.RLock()
	peers := make([]Peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.RUnlock()

	h.metrics.Broadcast()

	f := frame.Frame{Fin: true, Opcode: op, Payload: payload}
	sent := 0
	for _, p := range peers {
		if err := p.WriteFrame(f); err != nil {
			h.logger.Warn("error writing to peer", "peer", p.ID(), "remote_addr", p.RemoteAddr(), "error", err)
			continue
		}
		sent++
	}

	h.logger.Debug("broadcast", "opcode", op, "bytes", len(payload), "peers", sent)
	return sent
}
