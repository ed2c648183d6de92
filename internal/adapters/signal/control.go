package signal

import "github.com/dkeye/collabrelay/internal/protocol"

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, protocol.NewPong())
}
