package orch

import (
	"context"
	"errors"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinChannel validates the target channel, moves the connection into its
// room (leaving the previous channel), sends the recent history to the
// joiner only and announces the join to every member, joiner included.
// A failed lookup leaves all memberships untouched.
func (o *Orchestrator) JoinChannel(ctx context.Context, sid core.SessionID, serverID domain.ServerID, channelID domain.ChannelID) error {
	sess, err := o.session(sid)
	if err != nil {
		return err
	}
	ch, err := o.Store.GetChannel(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return ErrChannelNotFound
	}
	if err != nil {
		return storeErr("load channel", err)
	}
	if o.EnforceServerBoundary && ch.ServerID != serverID {
		return ErrChannelNotFound
	}

	key := domain.ChannelRoom(ch.ServerID, ch.ID)
	name := sess.Meta().Identity.DisplayName

	// Holding the room's send lock from the history read through the join
	// means every message is delivered to the joiner exactly once: either in
	// the history or live. History is read before any membership change so
	// a failed read leaves the connection where it was.
	unlock := o.lockRoom(key)
	defer unlock()

	history, err := o.Store.ChannelHistory(ctx, ch.ID, o.historyLimit())
	if err != nil {
		return storeErr("load history", err)
	}
	if history == nil {
		history = []domain.Message{}
	}

	o.mu.Lock()
	left, room, err := o.joinLocked(sess, key)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if left != nil {
		o.broadcast(left, "", core.EventReceiveMessage, o.notice(name+" left the channel"))
		o.Rooms.StopRoom(left.Key())
	}
	o.mu.Unlock()

	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(key)).Msg("joined channel")

	o.sendTo(sess, core.EventMessageHistory, history)
	o.broadcast(room, "", core.EventReceiveMessage, o.notice(name+" joined the channel"))
	return nil
}

// SendMessage persists a message in the connection's current channel and
// broadcasts the stored row to the room. Nothing is broadcast unless the
// write succeeded.
func (o *Orchestrator) SendMessage(ctx context.Context, sid core.SessionID, in domain.MessageInput) (*domain.Message, error) {
	sess, err := o.session(sid)
	if err != nil {
		return nil, err
	}
	in, err = in.Normalize()
	if err != nil {
		return nil, err
	}
	key, ok := o.Registry.RoomOf(sid, domain.KindChannel)
	if !ok {
		return nil, ErrNotInChannel
	}
	_, channelID, ok := key.Channel()
	if !ok {
		return nil, ErrNotInChannel
	}

	unlock := o.lockRoom(key)
	defer unlock()

	ch, err := o.Store.GetChannel(ctx, channelID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, storeErr("load channel", err)
	}
	msg, err := o.Store.CreateMessage(ctx, domain.NewMessage{
		Type:      in.Type,
		AuthorID:  sess.Meta().Identity.ID,
		Text:      in.Text,
		FileURL:   in.FileURL,
		ChannelID: ch.ID,
	})
	if err != nil {
		return nil, storeErr("save message", err)
	}
	if room, ok := o.Rooms.Get(key); ok {
		o.broadcast(room, "", core.EventReceiveMessage, msg)
	}
	return msg, nil
}

// Servers lists servers with their channels.
func (o *Orchestrator) Servers(ctx context.Context) ([]domain.Server, error) {
	servers, err := o.Store.ListServers(ctx)
	if err != nil {
		return nil, storeErr("list servers", err)
	}
	return servers, nil
}
