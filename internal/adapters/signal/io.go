package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/observability"
	"github.com/dkeye/collabrelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var errInternal = errors.New("internal server error")

func (ctl *SignalWSController) writePump(c *WsSignalConn) {
	defer func() {
		deadline := time.Now().Add(c.writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
		log.Debug().Str("module", "signal").Msg("writePump closed")
	}()

	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
			c.Close()
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			c.Close()
			return
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, m *core.Member, c *WsSignalConn) {
	id := m.ID()
	defer func() {
		if ctl.Monitor != nil {
			ctl.Monitor.Untrack(id)
		}
		if ctl.Limiter != nil {
			ctl.Limiter.Forget(id)
		}
		ctl.Orch.OnDisconnect(id)
		c.Close()
		log.Info().Str("module", "signal").Str("conn", string(id)).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	c.conn.SetPongHandler(func(string) error {
		m.Touch()
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			m.Touch()
			ctl.handleSignal(m, c, data)
		}
	}
}

// handleSignal routes one inbound frame. Failures are answered with an
// error frame to the sender only and never close the connection.
func (ctl *SignalWSController) handleSignal(m *core.Member, c *WsSignalConn, data []byte) {
	id := m.ID()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("module", "signal").Str("conn", string(id)).Msg("handler panic")
			ctl.replyError(c, errInternal)
		}
	}()

	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn", string(id)).Msg("bad message")
		ctl.replyError(c, err)
		return
	}
	observability.RecordMessage(string(msg.Type()))

	switch msg := msg.(type) {
	case protocol.Join:
		err = ctl.handleJoin(id, msg)
	case protocol.Leave:
		err = ctl.handleLeave(id)
	case protocol.Sync:
		err = ctl.Orch.Sync(id, msg)
	case protocol.Upload:
		err = ctl.handleUpload(id, msg)
	case protocol.HostStatus:
		err = ctl.handleHostStatus(id, msg)
	case protocol.Ping:
		ctl.handlePing(c)
	case protocol.EndSession:
		err = ctl.handleEndSession(id)
	default:
		err = domain.ErrUnknownType
	}
	if err != nil && !errors.Is(err, domain.ErrNotConnected) {
		ctl.replyError(c, err)
	}
}

func (ctl *SignalWSController) replyError(c *WsSignalConn, err error) {
	if err == nil {
		return
	}
	observability.RecordError(string(domain.KindOf(err)))
	ctl.sendJSON(c, protocol.NewError(err.Error()))
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("sendJSON dropped reply")
	}
}
