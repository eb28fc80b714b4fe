package orch

import (
	"context"
	"errors"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/rs/zerolog/log"
)

// conversationFor loads the conversation and checks that uid takes part in
// it. It is called on every DM join and send; nothing is cached.
func (o *Orchestrator) conversationFor(ctx context.Context, uid domain.UserID, id domain.ConversationID) (*domain.Conversation, error) {
	if id == "" {
		return nil, ErrConversationNotFound
	}
	conv, err := o.Store.GetConversation(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, storeErr("load conversation", err)
	}
	if !conv.HasParticipant(uid) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// JoinDM makes the conversation the connection's current DM room and sends
// it the conversation history.
func (o *Orchestrator) JoinDM(ctx context.Context, sid core.SessionID, id domain.ConversationID) error {
	if !o.Features.DirectMessages {
		return ErrFeatureDisabled
	}
	sess, err := o.session(sid)
	if err != nil {
		return err
	}
	conv, err := o.conversationFor(ctx, sess.Meta().Identity.ID, id)
	if err != nil {
		return err
	}

	key := domain.DMRoom(conv.ID)
	unlock := o.lockRoom(key)
	defer unlock()

	history, err := o.Store.ConversationHistory(ctx, conv.ID, o.historyLimit())
	if err != nil {
		return storeErr("load dm history", err)
	}
	if history == nil {
		history = []domain.Message{}
	}

	o.mu.Lock()
	left, _, err := o.joinLocked(sess, key)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if left != nil {
		o.Rooms.StopRoom(left.Key())
	}
	o.mu.Unlock()

	o.sendTo(sess, core.EventDMHistory, core.DMHistoryEvent{ConversationID: conv.ID, Messages: history})
	return nil
}

// SendDM persists a direct message, broadcasts it to the connections viewing
// the conversation and refreshes both participants' DM lists.
func (o *Orchestrator) SendDM(ctx context.Context, sid core.SessionID, id domain.ConversationID, in domain.MessageInput) (*domain.Message, error) {
	if !o.Features.DirectMessages {
		return nil, ErrFeatureDisabled
	}
	sess, err := o.session(sid)
	if err != nil {
		return nil, err
	}
	in, err = in.Normalize()
	if err != nil {
		return nil, err
	}
	uid := sess.Meta().Identity.ID
	conv, err := o.conversationFor(ctx, uid, id)
	if err != nil {
		return nil, err
	}

	msg, err := o.persistDM(ctx, conv, uid, in)
	if err != nil {
		return nil, err
	}
	for _, p := range conv.Participants {
		if err := o.pushDMList(ctx, p); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("user", string(p)).Msg("dm list refresh")
		}
	}
	return msg, nil
}

func (o *Orchestrator) persistDM(ctx context.Context, conv *domain.Conversation, uid domain.UserID, in domain.MessageInput) (*domain.Message, error) {
	key := domain.DMRoom(conv.ID)
	unlock := o.lockRoom(key)
	defer unlock()

	msg, err := o.Store.CreateMessage(ctx, domain.NewMessage{
		Type:           in.Type,
		AuthorID:       uid,
		Text:           in.Text,
		FileURL:        in.FileURL,
		ConversationID: conv.ID,
	})
	if err != nil {
		return nil, storeErr("save dm", err)
	}
	if room, ok := o.Rooms.Get(key); ok {
		o.broadcast(room, "", core.EventReceiveDM, msg)
	}
	return msg, nil
}

// StartDM returns the conversation with target, creating it on first
// contact, and refreshes both DM lists.
func (o *Orchestrator) StartDM(ctx context.Context, sid core.SessionID, target domain.UserID) (*domain.Conversation, error) {
	if !o.Features.DirectMessages {
		return nil, ErrFeatureDisabled
	}
	sess, err := o.session(sid)
	if err != nil {
		return nil, err
	}
	uid := sess.Meta().Identity.ID
	other, err := o.counterpart(ctx, uid, target)
	if err != nil {
		return nil, err
	}
	conv, err := o.Store.EnsureConversation(ctx, uid, other.ID)
	if err != nil {
		return nil, storeErr("start dm", err)
	}
	o.sendTo(sess, core.EventDMStarted, core.DMStartedEvent{ConversationID: conv.ID, User: other.Summary()})
	for _, p := range []domain.UserID{uid, other.ID} {
		if err := o.pushDMList(ctx, p); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("user", string(p)).Msg("dm list refresh")
		}
	}
	return conv, nil
}

func (o *Orchestrator) dmList(ctx context.Context, uid domain.UserID) ([]domain.DMSummary, error) {
	list, err := o.Store.ListDMs(ctx, uid)
	if err != nil {
		return nil, storeErr("list dms", err)
	}
	if list == nil {
		list = []domain.DMSummary{}
	}
	return list, nil
}

func (o *Orchestrator) pushDMList(ctx context.Context, uid domain.UserID) error {
	if len(o.Registry.SessionsOf(uid)) == 0 {
		return nil
	}
	list, err := o.dmList(ctx, uid)
	if err != nil {
		return err
	}
	o.pushToUser(uid, core.EventDMList, list)
	return nil
}

// counterpart resolves the other party of a relationship.
func (o *Orchestrator) counterpart(ctx context.Context, uid, target domain.UserID) (*domain.User, error) {
	if target == "" {
		return nil, ErrUserNotFound
	}
	if target == uid {
		return nil, domain.ErrSelfRelation
	}
	u, err := o.Store.GetUser(ctx, target)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, storeErr("load user", err)
	}
	return u, nil
}
