package orch

import (
	"bytes"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinVoice moves the connection into a voice room. The old room, if any,
// gets a leave roster first, then the new room (joiner included) gets the
// full roster.
func (o *Orchestrator) JoinVoice(sid core.SessionID, roomID string) error {
	sess, err := o.session(sid)
	if err != nil {
		return err
	}
	key := domain.VoiceRoom(roomID)

	o.mu.Lock()
	defer o.mu.Unlock()
	left, room, err := o.joinLocked(sess, key)
	if err != nil {
		return err
	}
	if left != nil {
		o.publishRoster(left, core.EventLeaveVoice)
		o.Rooms.StopRoom(left.Key())
	}
	o.publishRoster(room, core.EventJoinVoice)
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(key)).Int("members", room.MemberCount()).Msg("joined voice")
	return nil
}

// LeaveVoice leaves whatever voice room the connection is in. Not being in
// one is a no-op.
func (o *Orchestrator) LeaveVoice(sid core.SessionID) error {
	if _, err := o.session(sid); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	room := o.leaveLocked(sid, domain.KindVoice)
	if room == nil {
		return nil
	}
	o.publishRoster(room, core.EventLeaveVoice)
	o.Rooms.StopRoom(room.Key())
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(room.Key())).Msg("left voice")
	return nil
}

// Roster returns the current participants of a voice room.
func (o *Orchestrator) Roster(roomID string) []domain.RosterEntry {
	room, ok := o.Rooms.Get(domain.VoiceRoom(roomID))
	if !ok {
		return []domain.RosterEntry{}
	}
	return room.Roster()
}

// publishRoster sends the full roster to every current member.
func (o *Orchestrator) publishRoster(room core.RoomService, event string) {
	o.broadcast(room, "", event, core.RosterEvent{
		RoomID: room.Key().ID(),
		Users:  room.Roster(),
	})
}

// Relay forwards an opaque offer/answer/candidate to one target connection.
// Both ends must be members of the same voice room at the time of the call;
// anything else fails closed. Payloads are never inspected.
func (o *Orchestrator) Relay(sid core.SessionID, kind string, req core.SignalRequest) error {
	switch kind {
	case core.EventOffer, core.EventAnswer, core.EventICECandidate:
	default:
		return ErrUnknownSignal
	}
	if req.TargetConnectionID == "" || req.TargetConnectionID == sid {
		return ErrInvalidTarget
	}
	if p := bytes.TrimSpace(req.Payload); len(p) == 0 || bytes.Equal(p, []byte("null")) {
		return ErrEmptyPayload
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	key, ok := o.Registry.RoomOf(sid, domain.KindVoice)
	if !ok {
		return ErrNotInVoice
	}
	room, ok := o.Rooms.Get(key)
	if !ok || !room.Has(sid) {
		return ErrNotInVoice
	}
	target, ok := room.Member(req.TargetConnectionID)
	if !ok {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("target", string(req.TargetConnectionID)).Str("kind", kind).Msg("relay refused")
		return ErrTargetNotInRoom
	}
	o.sendTo(target, kind, core.SignalEvent{
		RoomID:             key.ID(),
		SourceConnectionID: sid,
		TargetConnectionID: target.ID(),
		Payload:            req.Payload,
	})
	return nil
}
