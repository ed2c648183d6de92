package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/collabrelay/internal/app/liveness"
	"github.com/dkeye/collabrelay/internal/app/orch"
	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type ConnOptions struct {
	ReadLimit  int64
	WriteWait  time.Duration
	SendBuffer int
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 50 << 20
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Monitor *liveness.Monitor
	Limiter *UploadRateLimiter
	Opts    ConnOptions
}

func NewSignalWSController(o *orch.Orchestrator, mon *liveness.Monitor, limiter *UploadRateLimiter, opts ConnOptions) *SignalWSController {
	return &SignalWSController{
		Orch:    o,
		Monitor: mon,
		Limiter: limiter,
		Opts:    opts.withDefaults(),
	}
}

// WsSignalConn implements core.SignalConnection on top of a websocket.
// Frames are queued to a buffered channel drained by writePump; a full
// queue is reported instead of blocking the sender. writePump owns the
// socket and is the only one to close it.
type WsSignalConn struct {
	conn      *websocket.Conn
	send      chan core.Frame
	writeWait time.Duration

	mu     sync.RWMutex
	closed bool
}

func NewWsSignalConn(ws *websocket.Conn, buffer int, writeWait time.Duration) *WsSignalConn {
	return &WsSignalConn{
		conn:      ws,
		send:      make(chan core.Frame, buffer),
		writeWait: writeWait,
	}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close stops accepting frames. writePump flushes what is queued and then
// closes the socket, which in turn ends readPump.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Probe sends a websocket ping. The pong is observed by the read loop.
// The write happens outside mu so a stalled socket cannot hold up TrySend.
func (c *WsSignalConn) Probe() error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrConnClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

type probeTarget struct {
	member *core.Member
	conn   *WsSignalConn
}

func (t probeTarget) ID() domain.ConnID       { return t.member.ID() }
func (t probeTarget) Probe() error            { return t.conn.Probe() }
func (t probeTarget) LastActivity() time.Time { return t.member.LastActivity() }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side closes it. ctx is the server lifetime, not the request's.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.ConnID(uuid.NewString())
	conn := NewWsSignalConn(ws, ctl.Opts.SendBuffer, ctl.Opts.WriteWait)
	member := core.NewMember(id, conn)

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(member, func() {
		cancel()
		conn.Close()
	})
	if ctl.Monitor != nil {
		ctl.Monitor.Track(probeTarget{member: member, conn: conn})
	}
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("client", client).Str("remote", c.ClientIP()).Msg("new WS connection")

	go ctl.writePump(conn)
	go ctl.readPump(ctx, member, conn)
}
