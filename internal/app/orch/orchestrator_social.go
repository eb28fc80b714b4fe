package orch

import (
	"context"
	"errors"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/rs/zerolog/log"
)

// SendFriendRequest records a pending request from the connection's identity
// to target. Repeating the request, in either direction, reuses the
// existing row.
func (o *Orchestrator) SendFriendRequest(ctx context.Context, sid core.SessionID, target domain.UserID) (*domain.Friendship, error) {
	if !o.Features.Friends {
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
	f, err := o.Store.RequestFriendship(ctx, uid, other.ID)
	if err != nil {
		return nil, storeErr("friend request", err)
	}
	if f.Status == domain.FriendshipAccepted {
		return f, ErrAlreadyFriends
	}
	o.syncFriends(ctx, uid, other.ID)
	return f, nil
}

// RespondFriendRequest lets the addressee accept or decline a pending
// request. Accepting also guarantees a DM conversation between the two.
func (o *Orchestrator) RespondFriendRequest(ctx context.Context, sid core.SessionID, id domain.FriendshipID, accept bool) (*domain.Friendship, error) {
	if !o.Features.Friends {
		return nil, ErrFeatureDisabled
	}
	sess, err := o.session(sid)
	if err != nil {
		return nil, err
	}
	uid := sess.Meta().Identity.ID

	f, err := o.Store.GetFriendship(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, storeErr("load friend request", err)
	}
	if !f.Involves(uid) {
		return nil, ErrRequestNotFound
	}
	if f.Addressee.ID != uid {
		return nil, ErrNotAddressee
	}
	if f.Status != domain.FriendshipPending {
		return nil, ErrRequestClosed
	}

	status := domain.FriendshipDeclined
	if accept {
		status = domain.FriendshipAccepted
	}
	f, err = o.Store.SetFriendshipStatus(ctx, id, status)
	if err != nil {
		return nil, storeErr("answer friend request", err)
	}

	requester := f.Requester.ID
	withDM := accept && o.Features.DirectMessages
	var convErr error
	if withDM {
		_, convErr = o.Store.EnsureConversation(ctx, requester, uid)
	}
	o.syncFriends(ctx, uid, requester)
	if convErr != nil {
		return f, storeErr("create dm", convErr)
	}
	if withDM {
		for _, p := range []domain.UserID{uid, requester} {
			if err := o.pushDMList(ctx, p); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("user", string(p)).Msg("dm list refresh")
			}
		}
	}
	return f, nil
}

// syncFriends pushes fresh friend snapshots to every connection of each
// listed identity.
func (o *Orchestrator) syncFriends(ctx context.Context, uids ...domain.UserID) {
	for _, uid := range uids {
		if len(o.Registry.SessionsOf(uid)) == 0 {
			continue
		}
		st, err := o.friendsState(ctx, uid)
		if err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("friends refresh")
			continue
		}
		o.pushToUser(uid, core.EventFriendsState, st)
	}
}

func (o *Orchestrator) friendsState(ctx context.Context, uid domain.UserID) (domain.FriendsState, error) {
	rows, err := o.Store.ListFriendships(ctx, uid)
	if err != nil {
		return domain.FriendsState{}, storeErr("list friendships", err)
	}
	return domain.BuildFriendsState(uid, rows), nil
}
