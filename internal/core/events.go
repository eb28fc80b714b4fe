package core

import (
	"encoding/json"

	"github.com/dkeye/cordor/internal/domain"
)

// Event names shared by both directions of the gateway socket.
const (
	EventJoinChannel          = "join_channel"
	EventSendMessage          = "send_message"
	EventJoinDM               = "join_dm"
	EventSendDM               = "send_dm"
	EventStartDM              = "start_dm"
	EventSendFriendRequest    = "send_friend_request"
	EventRespondFriendRequest = "respond_friend_request"
	EventJoinVoice            = "join_voice_channel"
	EventLeaveVoice           = "leave_voice_channel"
	EventOffer                = "webrtc_offer"
	EventAnswer               = "webrtc_answer"
	EventICECandidate         = "webrtc_ice_candidate"
	EventPing                 = "ping"

	EventReady          = "ready"
	EventPong           = "pong"
	EventMessageHistory = "message_history"
	EventReceiveMessage = "receive_message"
	EventDMHistory      = "dm_history"
	EventReceiveDM      = "receive_dm"
	EventDMList         = "dm_list"
	EventFriendsState   = "friends_state"
	EventDMStarted      = "dm_started"
	EventError          = "error"
)

// Envelope is the wire form of every event: {"type": ..., "data": ...}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps v into an envelope frame.
func Encode(event string, v any) (Frame, error) {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Envelope{Type: event, Data: raw})
}

// Inbound payloads.

type JoinChannelRequest struct {
	ServerID  domain.ServerID  `json:"serverId"`
	ChannelID domain.ChannelID `json:"channelId"`
}

type JoinDMRequest struct {
	ConversationID domain.ConversationID `json:"conversationId"`
}

type SendDMRequest struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	domain.MessageInput
}

type TargetUserRequest struct {
	TargetID domain.UserID `json:"targetIdentityId"`
}

type RespondFriendRequest struct {
	RequestID domain.FriendshipID `json:"requestId"`
	Accept    bool                `json:"accept"`
}

type VoiceRoomRequest struct {
	RoomID string `json:"roomId,omitempty"`
}

type SignalRequest struct {
	TargetConnectionID SessionID       `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload"`
}

// Outbound payloads.

type ReadyEvent struct {
	ConnectionID SessionID          `json:"connectionId"`
	User         domain.UserSummary `json:"user"`
}

type DMHistoryEvent struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	Messages       []domain.Message      `json:"messages"`
}

type DMStartedEvent struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	User           domain.UserSummary    `json:"user"`
}

type RosterEvent struct {
	RoomID string               `json:"roomId"`
	Users  []domain.RosterEntry `json:"users"`
}

type SignalEvent struct {
	RoomID             string          `json:"roomId"`
	SourceConnectionID SessionID       `json:"sourceConnectionId"`
	TargetConnectionID SessionID       `json:"targetConnectionId"`
	Payload            json.RawMessage `json:"payload,omitempty"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}
