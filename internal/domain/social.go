package domain

import (
	"errors"
	"time"
)

type (
	FriendshipID   string
	ConversationID string
)

type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipDeclined FriendshipStatus = "declined"
)

var ErrSelfRelation = errors.New("cannot relate to yourself")

// Friendship is one row per unordered pair. Requester/Addressee keep the
// direction of the latest request.
type Friendship struct {
	ID        FriendshipID     `json:"id"`
	Requester UserSummary      `json:"requester"`
	Addressee UserSummary      `json:"addressee"`
	Status    FriendshipStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Involves reports whether uid is one of the two parties.
func (f *Friendship) Involves(uid UserID) bool {
	return f.Requester.ID == uid || f.Addressee.ID == uid
}

// Other returns the party that is not uid.
func (f *Friendship) Other(uid UserID) UserSummary {
	if f.Requester.ID == uid {
		return f.Addressee
	}
	return f.Requester
}

// PendingRequest is a friend request as seen from one side.
type PendingRequest struct {
	RequestID FriendshipID `json:"requestId"`
	User      UserSummary  `json:"user"`
	CreatedAt time.Time    `json:"createdAt"`
}

// FriendsState is the snapshot pushed on connect and after every
// relationship change.
type FriendsState struct {
	Friends         []UserSummary    `json:"friends"`
	PendingIncoming []PendingRequest `json:"pendingIncoming"`
	PendingOutgoing []PendingRequest `json:"pendingOutgoing"`
}

// BuildFriendsState splits the rows of one user into the three lists.
// Declined rows are not shown.
func BuildFriendsState(uid UserID, rows []Friendship) FriendsState {
	st := FriendsState{
		Friends:         []UserSummary{},
		PendingIncoming: []PendingRequest{},
		PendingOutgoing: []PendingRequest{},
	}
	for i := range rows {
		f := &rows[i]
		if !f.Involves(uid) {
			continue
		}
		switch f.Status {
		case FriendshipAccepted:
			st.Friends = append(st.Friends, f.Other(uid))
		case FriendshipPending:
			req := PendingRequest{RequestID: f.ID, User: f.Other(uid), CreatedAt: f.UpdatedAt}
			if f.Addressee.ID == uid {
				st.PendingIncoming = append(st.PendingIncoming, req)
			} else {
				st.PendingOutgoing = append(st.PendingOutgoing, req)
			}
		}
	}
	return st
}

// Conversation is a two-party DM thread, unique per unordered pair.
type Conversation struct {
	ID           ConversationID `json:"id"`
	Participants [2]UserID      `json:"participants"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func (c *Conversation) HasParticipant(uid UserID) bool {
	return c.Participants[0] == uid || c.Participants[1] == uid
}

func (c *Conversation) Other(uid UserID) UserID {
	if c.Participants[0] == uid {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// MessagePreview is the last line of a conversation shown in the DM list.
type MessagePreview struct {
	ID        MessageID   `json:"id"`
	Type      MessageType `json:"type"`
	UserID    UserID      `json:"userId"`
	Text      string      `json:"text,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type DMSummary struct {
	ConversationID ConversationID  `json:"conversationId"`
	User           UserSummary     `json:"user"`
	LastMessage    *MessagePreview `json:"lastMessage,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// OrderedPair sorts two ids so an unordered pair has one canonical form.
func OrderedPair(a, b UserID) (UserID, UserID) {
	if a <= b {
		return a, b
	}
	return b, a
}
