// Package signal is the WebSocket side of the gateway: one controller
// serves every connection, decoding envelopes and dispatching them to the
// orchestrator.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/cordor/internal/adapters/ratelimit"
	"github.com/dkeye/cordor/internal/app/orch"
	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.PongWait <= o.PingPeriod {
		o.PongWait = o.PingPeriod * 10 / 9
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter ratelimit.Limiter
	opts    Options
}

func NewSignalWSController(o *orch.Orchestrator, limiter ratelimit.Limiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Limiter: limiter,
		opts:    opts.withDefaults(),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(ws *websocket.Conn, buffer int) *WsSignalConn {
	return &WsSignalConn{conn: ws, send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
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

// HandleSignal upgrades an already authenticated request and runs the
// connection until either side closes it.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, ident *domain.Identity) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	sid := core.SessionID(uuid.NewString())
	conn := newWsSignalConn(ws, ctl.opts.SendBuffer)
	sess := core.NewMemberSession(domain.NewMember(string(sid), ident), conn)

	ctx, cancel := context.WithCancel(ctx)
	kill := func() {
		cancel()
		conn.Close()
	}

	go ctl.writePump(ctx, conn)
	if err := ctl.Orch.Connect(ctx, sess, kill); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("connect")
		kill()
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(ident.ID)).Msg("new WS connection")
	go ctl.readPump(ctx, sid, conn, kill)
}
