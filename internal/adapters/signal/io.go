package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/cordor/internal/app/orch"
	"github.com/dkeye/cordor/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	errBadPayload  = errors.New("bad payload")
	errUnknownType = errors.New("unknown event type")
	errRateLimited = errors.New("too many events, slow down")
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(ctl.opts.WriteWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

// readPump owns the connection's lifetime: when it returns, the connection
// is torn down everywhere.
func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn, kill func()) {
	defer func() {
		ctl.Orch.Disconnect(sid)
		kill()
		if f, ok := ctl.Limiter.(interface{ Forget(string) }); ok {
			f.Forget(string(sid))
		}
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
		ctl.dispatch(ctx, sid, c, data)
	}
}

func (ctl *SignalWSController) dispatch(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		ctl.sendError(c, errBadPayload)
		return
	}
	if env.Type == core.EventPing {
		ctl.handlePing(c)
		return
	}
	if !ctl.allow(ctx, sid) {
		ctl.sendError(c, errRateLimited)
		return
	}

	var err error
	switch env.Type {
	case core.EventJoinChannel:
		err = ctl.handleJoinChannel(ctx, sid, env.Data)
	case core.EventSendMessage:
		err = ctl.handleSendMessage(ctx, sid, env.Data)
	case core.EventJoinDM:
		err = ctl.handleJoinDM(ctx, sid, env.Data)
	case core.EventSendDM:
		err = ctl.handleSendDM(ctx, sid, env.Data)
	case core.EventStartDM:
		err = ctl.handleStartDM(ctx, sid, env.Data)
	case core.EventSendFriendRequest:
		err = ctl.handleFriendRequest(ctx, sid, env.Data)
	case core.EventRespondFriendRequest:
		err = ctl.handleRespondFriendRequest(ctx, sid, env.Data)
	case core.EventJoinVoice:
		err = ctl.handleJoinVoice(sid, env.Data)
	case core.EventLeaveVoice:
		err = ctl.Orch.LeaveVoice(sid)
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
		err = ctl.handleRelay(sid, env.Type, env.Data)
	default:
		err = errUnknownType
	}
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("type", env.Type).Msg("event rejected")
		ctl.sendError(c, err)
	}
}

func (ctl *SignalWSController) allow(ctx context.Context, sid core.SessionID) bool {
	if ctl.Limiter == nil {
		return true
	}
	ok, err := ctl.Limiter.Allow(ctx, string(sid))
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("rate limiter unavailable")
		return true
	}
	return ok
}

// decode accepts a missing data field as the zero value.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errBadPayload
	}
	return nil
}

// errorMessage hides storage details behind a retryable message.
func errorMessage(err error) string {
	if errors.Is(err, orch.ErrStore) {
		return "temporary failure, please retry"
	}
	return err.Error()
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, err error) {
	ctl.send(c, core.EventError, core.ErrorEvent{Message: errorMessage(err)})
}

func (ctl *SignalWSController) send(c core.SignalConnection, event string, v any) {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode")
		return
	}
	_ = c.TrySend(frame)
}
