package core

import (
	"context"
	"errors"

	"github.com/dkeye/cordor/internal/domain"
)

//go:generate mockgen -destination=mock_core/identity.go -package=mock_core github.com/dkeye/cordor/internal/core IdentityResolver

var ErrUnauthenticated = errors.New("unauthenticated")

// IdentityResolver maps an opaque credential to a stable identity.
// A rejected credential is reported as ErrUnauthenticated (possibly wrapped);
// any other error means the identity could not be resolved right now.
type IdentityResolver interface {
	Authenticate(ctx context.Context, token string) (*domain.Identity, error)
}

// Lookups return domain.ErrNotFound (possibly wrapped) for missing rows.

type UserStore interface {
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

type ChannelStore interface {
	GetChannel(ctx context.Context, id domain.ChannelID) (*domain.Channel, error)
	ListServers(ctx context.Context) ([]domain.Server, error)
	// EnsureServer upserts a server and its channels by name.
	EnsureServer(ctx context.Context, name string, channels []string) (*domain.Server, error)
}

type MessageStore interface {
	// CreateMessage persists and returns the row with id, timestamp and
	// author fields filled in.
	CreateMessage(ctx context.Context, m domain.NewMessage) (*domain.Message, error)
	// History methods return the newest `limit` rows in ascending order.
	ChannelHistory(ctx context.Context, id domain.ChannelID, limit int) ([]domain.Message, error)
	ConversationHistory(ctx context.Context, id domain.ConversationID, limit int) ([]domain.Message, error)
}

type SocialStore interface {
	// RequestFriendship writes at most one row per unordered pair. An
	// existing pending or accepted row is returned untouched; a declined
	// row is reopened as pending in the new direction.
	RequestFriendship(ctx context.Context, from, to domain.UserID) (*domain.Friendship, error)
	GetFriendship(ctx context.Context, id domain.FriendshipID) (*domain.Friendship, error)
	SetFriendshipStatus(ctx context.Context, id domain.FriendshipID, status domain.FriendshipStatus) (*domain.Friendship, error)
	ListFriendships(ctx context.Context, uid domain.UserID) ([]domain.Friendship, error)

	// EnsureConversation returns the pair's conversation, creating it if absent.
	EnsureConversation(ctx context.Context, a, b domain.UserID) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error)
	// ListDMs is sorted by latest activity, newest first.
	ListDMs(ctx context.Context, uid domain.UserID) ([]domain.DMSummary, error)
}

// Store is the full persistence surface the gateway consumes.
type Store interface {
	UserStore
	ChannelStore
	MessageStore
	SocialStore
}
