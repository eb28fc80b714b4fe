package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/cordor/internal/core"
)

func (ctl *SignalWSController) handleJoinDM(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p core.JoinDMRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	return ctl.Orch.JoinDM(ctx, sid, p.ConversationID)
}

func (ctl *SignalWSController) handleSendDM(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p core.SendDMRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := ctl.Orch.SendDM(ctx, sid, p.ConversationID, p.MessageInput)
	return err
}

func (ctl *SignalWSController) handleStartDM(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p core.TargetUserRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := ctl.Orch.StartDM(ctx, sid, p.TargetID)
	return err
}
