package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/cordor/internal/core"
)

func (ctl *SignalWSController) handleFriendRequest(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p core.TargetUserRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	_, err := ctl.Orch.SendFriendRequest(ctx, sid, p.TargetID)
	return err
}

func (ctl *SignalWSController) handleRespondFriendRequest(ctx context.Context, sid core.SessionID, data json.RawMessage) error {
	var p core.RespondFriendRequest
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.RequestID == "" {
		return errBadPayload
	}
	_, err := ctl.Orch.RespondFriendRequest(ctx, sid, p.RequestID, p.Accept)
	return err
}
