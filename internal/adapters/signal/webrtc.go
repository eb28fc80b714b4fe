package signal

import (
	"encoding/json"

	"github.com/dkeye/cordor/internal/core"
)

func (ctl *SignalWSController) handleJoinVoice(sid core.SessionID, data json.RawMessage) error {
	var p core.VoiceRoomRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.JoinVoice(sid, p.RoomID)
}

// handleRelay forwards offer/answer/candidate payloads untouched; the
// server never terminates media.
func (ctl *SignalWSController) handleRelay(sid core.SessionID, kind string, data json.RawMessage) error {
	var p core.SignalRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.Relay(sid, kind, p)
}
