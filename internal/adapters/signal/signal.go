package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avelov/tollcall/internal/app/orch"
	"github.com/avelov/tollcall/internal/core"
	"github.com/avelov/tollcall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// SignalWSController owns the websocket edge of the relay: one connection
// per authenticated user, pumps, and the control-message handlers.
type SignalWSController struct {
	Orch       *orch.Orchestrator
	Hub        *Hub
	Limiter    *InviteRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, hub *Hub, limiter *InviteRateLimiter, readLimit int64, pongWait time.Duration) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		Hub:        hub,
		Limiter:    limiter,
		ReadLimit:  readLimit,
		PingPeriod: pongWait * 9 / 10,
		PongWait:   pongWait,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and binds the channel to the
// authenticated user for the lifetime of the connection.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("user_id"))
	if uid == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	log.Info().Str("module", "signal").Str("user", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctl.Orch.Registry.GetOrCreateUser(uid)
	if prev := ctl.Hub.Bind(uid, conn); prev != nil {
		log.Info().Str("module", "signal").Str("user", string(uid)).Msg("superseding previous connection")
		prev.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		ctl.readPump(ctx, uid, conn)
		cancel()
		// Only the still-current connection tears the user down; a reader
		// dying because it was superseded must not end the new session.
		if ctl.Hub.Unbind(uid, conn) {
			ctl.Orch.UserDisconnected(context.Background(), uid)
		}
	}()
}
