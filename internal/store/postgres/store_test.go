package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/dkeye/cordor/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_DATABASE_URL not set")
	}
	s, err := Open(context.Background(), url, 4)
	if err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// users creates fresh users so tests do not see each other's rows.
func users(t *testing.T, s *Store, names ...string) []domain.UserID {
	t.Helper()
	ids := make([]domain.UserID, 0, len(names))
	for _, name := range names {
		u := &domain.User{ID: domain.UserID(uuid.NewString()), Username: name}
		require.NoError(t, s.SaveUser(context.Background(), u))
		ids = append(ids, u.ID)
	}
	return ids
}

func TestFriendshipLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ids := users(t, s, "alice", "bob")
	alice, bob := ids[0], ids[1]

	first, err := s.RequestFriendship(ctx, alice, bob)
	require.NoError(t, err)
	again, err := s.RequestFriendship(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, alice, again.Requester.ID)
	assert.Equal(t, "bob", again.Addressee.DisplayName)

	declined, err := s.SetFriendshipStatus(ctx, first.ID, domain.FriendshipDeclined)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipDeclined, declined.Status)

	reopened, err := s.RequestFriendship(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, first.ID, reopened.ID)
	assert.Equal(t, domain.FriendshipPending, reopened.Status)
	assert.Equal(t, bob, reopened.Requester.ID)

	rows, err := s.ListFriendships(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = s.RequestFriendship(ctx, alice, alice)
	assert.ErrorIs(t, err, domain.ErrSelfRelation)
	_, err = s.GetFriendship(ctx, domain.FriendshipID(uuid.NewString()))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConversationsAndHistory(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ids := users(t, s, "carol", "dave")

	a, err := s.EnsureConversation(ctx, ids[0], ids[1])
	require.NoError(t, err)
	b, err := s.EnsureConversation(ctx, ids[1], ids[0])
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	for _, text := range []string{"one", "two", "three"} {
		_, err := s.CreateMessage(ctx, domain.NewMessage{Type: domain.MessageText, AuthorID: ids[0], Text: text, ConversationID: a.ID})
		require.NoError(t, err)
	}
	msgs, err := s.ConversationHistory(ctx, a.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Text)
	assert.Equal(t, "three", msgs[1].Text)
	assert.Equal(t, "carol", msgs[1].Username)
	assert.Less(t, msgs[0].ID, msgs[1].ID)

	list, err := s.ListDMs(ctx, ids[1])
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[0], list[0].User.ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "three", list[0].LastMessage.Text)
}

func TestServersAndChannelMessages(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	ids := users(t, s, "erin")
	name := "srv-" + uuid.NewString()

	srv, err := s.EnsureServer(ctx, name, []string{"general", "random"})
	require.NoError(t, err)
	srv2, err := s.EnsureServer(ctx, name, []string{"general", "help"})
	require.NoError(t, err)
	assert.Equal(t, srv.ID, srv2.ID)
	require.Len(t, srv2.Channels, 3)
	assert.Equal(t, "general", srv2.Channels[0].Name)

	ch := srv2.Channels[0]
	got, err := s.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, srv.ID, got.ServerID)

	msg, err := s.CreateMessage(ctx, domain.NewMessage{Type: domain.MessageText, AuthorID: ids[0], Text: "hi", ChannelID: ch.ID})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, ch.ID, msg.ChannelID)

	_, err = s.CreateMessage(ctx, domain.NewMessage{Type: domain.MessageText, AuthorID: ids[0], Text: "x", ChannelID: "missing"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	servers, err := s.ListServers(ctx)
	require.NoError(t, err)
	found := false
	for _, sv := range servers {
		if sv.ID == srv.ID {
			found = true
			assert.Len(t, sv.Channels, 3)
		}
	}
	assert.True(t, found)
}
