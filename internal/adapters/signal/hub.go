package signal

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
	"github.com/avelov/tollcall/internal/metrics"
)

// Hub implements core.Gateway: one addressable connection per user identity.
// A reconnect supersedes the previous connection for the same user.
type Hub struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*WsSignalConn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[domain.UserID]*WsSignalConn)}
}

// Bind registers conn as the user's channel and returns the superseded
// connection, if any, so the caller can close it.
func (h *Hub) Bind(user domain.UserID, conn *WsSignalConn) *WsSignalConn {
	h.mu.Lock()
	prev := h.conns[user]
	h.conns[user] = conn
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(h.Count()))
	return prev
}

// Unbind removes the user's channel, but only if conn is still the current
// one: a stale reader from a superseded connection must not unbind its
// replacement.
func (h *Hub) Unbind(user domain.UserID, conn *WsSignalConn) bool {
	h.mu.Lock()
	current := h.conns[user] == conn
	if current {
		delete(h.conns, user)
	}
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(h.Count()))
	return current
}

func (h *Hub) Online(user domain.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[user]
	return ok
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Push delivers one event to the user's channel, best effort.
func (h *Hub) Push(user domain.UserID, ev core.Event) error {
	h.mu.RLock()
	conn, ok := h.conns[user]
	h.mu.RUnlock()
	if !ok {
		return core.ErrPeerUnreachable
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("event marshal")
		return err
	}
	if err := conn.TrySend(core.Frame(b)); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("push dropped")
		return core.ErrPeerUnreachable
	}
	return nil
}
