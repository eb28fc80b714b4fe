package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/cordor/internal/app"
	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultHistoryLimit = 100

var (
	ErrNotConnected         = errors.New("not connected")
	ErrNotInChannel         = errors.New("not in a channel")
	ErrChannelNotFound      = errors.New("channel not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("not a participant of this conversation")
	ErrNotInVoice           = errors.New("not in a voice channel")
	ErrTargetNotInRoom      = errors.New("target is not in your voice channel")
	ErrInvalidTarget        = errors.New("invalid signaling target")
	ErrEmptyPayload         = errors.New("missing signaling payload")
	ErrUnknownSignal        = errors.New("unknown signaling kind")
	ErrUserNotFound         = errors.New("user not found")
	ErrRequestNotFound      = errors.New("friend request not found")
	ErrNotAddressee         = errors.New("only the recipient can answer this request")
	ErrRequestClosed        = errors.New("friend request already answered")
	ErrAlreadyFriends       = errors.New("already friends")
	ErrFeatureDisabled      = errors.New("feature disabled")
	// ErrStore marks persistence failures; the client may retry.
	ErrStore = errors.New("storage unavailable")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// Features are resolved once at startup.
type Features struct {
	Friends        bool
	DirectMessages bool
}

// Orchestrator is the realtime gateway. Membership transitions run under mu
// so the registry's connection->room index and the rooms' member sets always
// change together. Sends into one room are serialized by a per-room lock
// held from the persistence write through the broadcast.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
	Store    core.Store
	Features Features

	HistoryLimit          int
	EnforceServerBoundary bool
	Now                   func() time.Time

	mu  sync.Mutex
	seq sync.Map // domain.RoomKey -> *sync.Mutex
}

// Connect registers an authenticated connection and pushes its initial
// snapshots. cancel must tear the transport down.
func (o *Orchestrator) Connect(ctx context.Context, sess core.MemberSession, cancel context.CancelFunc) error {
	if err := o.Registry.Register(sess, cancel); err != nil {
		return err
	}
	ident := sess.Meta().Identity
	log.Info().Str("module", "orch").Str("sid", string(sess.ID())).Str("user", string(ident.ID)).Msg("connected")

	o.sendTo(sess, core.EventReady, core.ReadyEvent{ConnectionID: sess.ID(), User: ident.Summary()})

	if o.Features.Friends {
		if st, err := o.friendsState(ctx, ident.ID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("friends snapshot")
			o.sendTo(sess, core.EventError, core.ErrorEvent{Message: "failed to load friends"})
		} else {
			o.sendTo(sess, core.EventFriendsState, st)
		}
	}
	if o.Features.DirectMessages {
		if list, err := o.dmList(ctx, ident.ID); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("sid", string(sess.ID())).Msg("dm snapshot")
			o.sendTo(sess, core.EventError, core.ErrorEvent{Message: "failed to load conversations"})
		} else {
			o.sendTo(sess, core.EventDMList, list)
		}
	}
	return nil
}

// Disconnect removes the connection from every room in one step and
// notifies each room. Safe to call more than once.
func (o *Orchestrator) Disconnect(sid core.SessionID) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rooms, sess, ok := o.Registry.Unregister(sid)
	if !ok {
		return
	}
	name := sess.Meta().Identity.DisplayName
	for _, key := range rooms.Keys() {
		room, ok := o.Rooms.Get(key)
		if !ok {
			continue
		}
		room.RemoveMember(sid)
		kind, _ := key.Kind()
		switch kind {
		case domain.KindChannel:
			o.broadcast(room, "", core.EventReceiveMessage, o.notice(name+" left the chat"))
		case domain.KindVoice:
			o.publishRoster(room, core.EventLeaveVoice)
		}
		o.Rooms.StopRoom(key)
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Int("rooms", len(rooms.Keys())).Msg("disconnected")
}

// Shutdown closes every live connection; each one then runs Disconnect.
func (o *Orchestrator) Shutdown() {
	for _, sid := range o.Registry.SessionIDs() {
		o.Registry.Cancel(sid)
	}
}

// RoomsOf returns the current rooms of a connection.
func (o *Orchestrator) RoomsOf(sid core.SessionID) (domain.RoomSet, bool) {
	return o.Registry.RoomsOf(sid)
}

func (o *Orchestrator) session(sid core.SessionID) (core.MemberSession, error) {
	sess, ok := o.Registry.GetSession(sid)
	if !ok {
		return nil, ErrNotConnected
	}
	return sess, nil
}

// joinLocked moves sess into `to`, leaving the previous room of the same
// kind first. It returns the room that was left, if any. Callers hold mu.
func (o *Orchestrator) joinLocked(sess core.MemberSession, to domain.RoomKey) (left, joined core.RoomService, err error) {
	sid := sess.ID()
	prev, ok := o.Registry.UpdateRoom(sid, to)
	if !ok {
		return nil, nil, ErrNotConnected
	}
	if prev != "" && prev != to {
		if room, ok := o.Rooms.Get(prev); ok {
			room.RemoveMember(sid)
			left = room
		}
	}
	joined = o.Rooms.GetOrCreate(to)
	joined.AddMember(sess)
	return left, joined, nil
}

// leaveLocked clears the slot for kind and returns the room that was left.
func (o *Orchestrator) leaveLocked(sid core.SessionID, kind domain.RoomKind) core.RoomService {
	prev := o.Registry.RemoveRoom(sid, kind)
	if prev == "" {
		return nil
	}
	room, ok := o.Rooms.Get(prev)
	if !ok {
		return nil
	}
	room.RemoveMember(sid)
	return room
}

// lockRoom returns the room's send lock. Entries are kept after the room
// stops: a sender may still hold the old mutex, and replacing it would let
// two sends into one room interleave. Only channel and DM rooms take it, so
// the map is bounded by the number of persisted channels and conversations.
func (o *Orchestrator) lockRoom(key domain.RoomKey) func() {
	v, _ := o.seq.LoadOrStore(key, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (o *Orchestrator) broadcast(room core.RoomService, except core.SessionID, event string, v any) {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return
	}
	res := room.Broadcast(except, frame)
	o.handleDropped(room, res.Dropped)
}

func (o *Orchestrator) sendTo(sess core.MemberSession, event string, v any) bool {
	frame, err := core.Encode(event, v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", event).Msg("encode")
		return false
	}
	if err := sess.Signal().TrySend(frame); err != nil {
		if errors.Is(err, core.ErrBackpressure) {
			o.handleDropped(nil, []core.MemberSession{sess})
		}
		return false
	}
	return true
}

// pushToUser delivers to every live connection of uid. Zero connections is
// a no-op.
func (o *Orchestrator) pushToUser(uid domain.UserID, event string, v any) {
	for _, sess := range o.Registry.SessionsOf(uid) {
		o.sendTo(sess, event, v)
	}
}

func (o *Orchestrator) handleDropped(room core.RoomService, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		switch o.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(slow.ID())).Msg("kicking slow connection")
			o.Registry.Cancel(slow.ID())
		case app.MarkSlow, app.DropFrame, app.NoAction:
		}
	}
}

func (o *Orchestrator) notice(text string) domain.Message {
	return domain.SystemNotice(text, o.now())
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) historyLimit() int {
	if o.HistoryLimit > 0 {
		return o.HistoryLimit
	}
	return DefaultHistoryLimit
}
