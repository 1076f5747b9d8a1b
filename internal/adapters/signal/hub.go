package signal

import (
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicechan/internal/core"
	"github.com/dkeye/voicechan/internal/domain"
)

// Hub maps each user to its live socket and implements core.Transport.
// A user has at most one socket; attaching a new one replaces the old.
type Hub struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*WsSignalConn
}

var _ core.Transport = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{conns: make(map[domain.UserID]*WsSignalConn)}
}

// Attach makes conn the user's socket and returns the one it replaced.
func (h *Hub) Attach(user domain.UserID, conn *WsSignalConn) *WsSignalConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.conns[user]
	h.conns[user] = conn
	return prev
}

// Detach forgets conn if it is still the user's socket.
func (h *Hub) Detach(user domain.UserID, conn *WsSignalConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[user] != conn {
		return false
	}
	delete(h.conns, user)
	return true
}

func (h *Hub) conn(user domain.UserID) (*WsSignalConn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[user]
	return c, ok
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send encodes ev for user. It never blocks: a client that cannot keep up
// loses its socket, and the resulting disconnect removes it from its channel.
func (h *Hub) Send(to domain.UserID, ev core.Event) {
	c, ok := h.conn(to)
	if !ok {
		log.Debug().Str("module", "signal").Str("user", string(to)).Str("event", string(ev.Name)).Msg("no socket, event dropped")
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", string(ev.Name)).Msg("event marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		if errors.Is(err, ErrBackpressure) {
			log.Warn().Str("module", "signal").Str("user", string(to)).Str("conn", c.id).Msg("send queue full, closing socket")
			c.Close()
		}
	}
}
