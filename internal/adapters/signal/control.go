package signal

import "github.com/dkeye/cordor/internal/core"

func (ctl *SignalWSController) handlePing(conn core.SignalConnection) {
	ctl.send(conn, core.EventPong, nil)
}
