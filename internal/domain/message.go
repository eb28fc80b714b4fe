package domain

import (
	"errors"
	"strings"
	"time"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

const MaxMessageTextLen = 4000

var (
	ErrMessageType  = errors.New("unsupported message type")
	ErrMessageEmpty = errors.New("message text empty")
	ErrMessageLong  = errors.New("message text too long")
	ErrMissingFile  = errors.New("image message without file url")
)

type MessageID int64

// Message is a persisted chat line. Exactly one of ChannelID and
// ConversationID is set. System notices are never persisted and carry no id.
type Message struct {
	ID             MessageID      `json:"id,omitempty"`
	Type           MessageType    `json:"type"`
	UserID         UserID         `json:"userId,omitempty"`
	Username       string         `json:"username"`
	DisplayName    string         `json:"displayName,omitempty"`
	AvatarURL      string         `json:"avatarUrl,omitempty"`
	Text           string         `json:"text,omitempty"`
	FileURL        string         `json:"fileUrl,omitempty"`
	ChannelID      ChannelID      `json:"channelId,omitempty"`
	ConversationID ConversationID `json:"conversationId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// MessageInput is what a client may submit.
type MessageInput struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text,omitempty"`
	FileURL string      `json:"fileUrl,omitempty"`
}

// Normalize defaults the type to text and rejects anything a client
// is not allowed to author.
func (in MessageInput) Normalize() (MessageInput, error) {
	if in.Type == "" {
		in.Type = MessageText
	}
	in.Text = strings.TrimSpace(in.Text)
	in.FileURL = strings.TrimSpace(in.FileURL)
	if len(in.Text) > MaxMessageTextLen {
		return in, ErrMessageLong
	}
	switch in.Type {
	case MessageText:
		if in.Text == "" {
			return in, ErrMessageEmpty
		}
	case MessageImage:
		if in.FileURL == "" {
			return in, ErrMissingFile
		}
	default:
		return in, ErrMessageType
	}
	return in, nil
}

// NewMessage is the write request handed to the store.
type NewMessage struct {
	Type           MessageType
	AuthorID       UserID
	Text           string
	FileURL        string
	ChannelID      ChannelID
	ConversationID ConversationID
}

func SystemNotice(text string, at time.Time) Message {
	return Message{
		Type:      MessageSystem,
		Username:  "System",
		Text:      text,
		Timestamp: at,
	}
}
