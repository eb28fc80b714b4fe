package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
)

func (ctl *SignalWSController) handleJoinChannel(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p core.JoinChannelRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.ChannelID == "" {
		return errBadPayload
	}
	return ctl.Orch.JoinChannel(ctx, sid, p.ServerID, p.ChannelID)
}

func (ctl *SignalWSController) handleSendMessage(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var in domain.MessageInput
	if err := decode(data, &in); err != nil {
		return err
	}
	_, err := ctl.Orch.SendMessage(ctx, sid, in)
	return err
}
