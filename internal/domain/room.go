package domain

import (
	"fmt"
	"strings"
)

type RoomKind int

const (
	KindChannel RoomKind = iota
	KindDM
	KindVoice
)

func (k RoomKind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindDM:
		return "dm"
	case KindVoice:
		return "voice"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// RoomKey names a fan-out group: channel:{serverId}:{channelId},
// dm:{conversationId} or voice:{roomId}.
type RoomKey string

const DefaultVoiceRoom = "living-room"

func ChannelRoom(serverID ServerID, channelID ChannelID) RoomKey {
	return RoomKey("channel:" + string(serverID) + ":" + string(channelID))
}

func DMRoom(id ConversationID) RoomKey {
	return RoomKey("dm:" + string(id))
}

// VoiceRoom trims the id and substitutes the default room for blanks.
func VoiceRoom(roomID string) RoomKey {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		roomID = DefaultVoiceRoom
	}
	return RoomKey("voice:" + roomID)
}

func (k RoomKey) Kind() (RoomKind, bool) {
	prefix, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return 0, false
	}
	switch prefix {
	case "channel":
		return KindChannel, true
	case "dm":
		return KindDM, true
	case "voice":
		return KindVoice, true
	}
	return 0, false
}

// ID returns everything after the kind prefix.
func (k RoomKey) ID() string {
	_, id, _ := strings.Cut(string(k), ":")
	return id
}

// Channel splits a channel key into its server and channel ids.
func (k RoomKey) Channel() (ServerID, ChannelID, bool) {
	if kind, ok := k.Kind(); !ok || kind != KindChannel {
		return "", "", false
	}
	server, channel, ok := strings.Cut(k.ID(), ":")
	if !ok || channel == "" {
		return "", "", false
	}
	return ServerID(server), ChannelID(channel), true
}

// RoomSet is the per-connection index of current memberships,
// one slot per room kind.
type RoomSet struct {
	Channel RoomKey
	DM      RoomKey
	Voice   RoomKey
}

func (s RoomSet) Get(kind RoomKind) RoomKey {
	switch kind {
	case KindChannel:
		return s.Channel
	case KindDM:
		return s.DM
	case KindVoice:
		return s.Voice
	}
	return ""
}

func (s *RoomSet) Set(kind RoomKind, key RoomKey) {
	switch kind {
	case KindChannel:
		s.Channel = key
	case KindDM:
		s.DM = key
	case KindVoice:
		s.Voice = key
	}
}

// Keys lists the non-empty memberships in channel, dm, voice order.
func (s RoomSet) Keys() []RoomKey {
	out := make([]RoomKey, 0, 3)
	for _, k := range []RoomKey{s.Channel, s.DM, s.Voice} {
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

type (
	ServerID  string
	ChannelID string
)

type Server struct {
	ID       ServerID  `json:"id"`
	Name     string    `json:"name"`
	Channels []Channel `json:"channels"`
}

type Channel struct {
	ID       ChannelID `json:"id"`
	ServerID ServerID  `json:"serverId"`
	Name     string    `json:"name"`
}
