// Package memory is an in-process implementation of core.Store, used in
// development mode and by tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/google/uuid"
)

var _ core.Store = (*Store)(nil)

type pair [2]domain.UserID

func pairOf(a, b domain.UserID) pair {
	lo, hi := domain.OrderedPair(a, b)
	return pair{lo, hi}
}

type friendshipRow struct {
	id        domain.FriendshipID
	requester domain.UserID
	addressee domain.UserID
	status    domain.FriendshipStatus
	createdAt time.Time
	updatedAt time.Time
}

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users    map[domain.UserID]*domain.User
	servers  []*domain.Server
	channels map[domain.ChannelID]*domain.Channel

	nextMsg  domain.MessageID
	byChan   map[domain.ChannelID][]domain.Message
	byConv   map[domain.ConversationID][]domain.Message
	friends  map[domain.FriendshipID]*friendshipRow
	friendIx map[pair]domain.FriendshipID
	convs    map[domain.ConversationID]*domain.Conversation
	convIx   map[pair]domain.ConversationID
}

func New() *Store {
	return &Store{
		now:      time.Now,
		users:    make(map[domain.UserID]*domain.User),
		channels: make(map[domain.ChannelID]*domain.Channel),
		byChan:   make(map[domain.ChannelID][]domain.Message),
		byConv:   make(map[domain.ConversationID][]domain.Message),
		friends:  make(map[domain.FriendshipID]*friendshipRow),
		friendIx: make(map[pair]domain.FriendshipID),
		convs:    make(map[domain.ConversationID]*domain.Conversation),
		convIx:   make(map[pair]domain.ConversationID),
	}
}

// SaveUser inserts or replaces a user.
func (s *Store) SaveUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, domain.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

// EnsureServer creates the server on first call. Server ids are sequential;
// a channel's id is its name unless that name is already taken by another
// server.
func (s *Store) EnsureServer(_ context.Context, name string, channels []string) (*domain.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var srv *domain.Server
	for _, existing := range s.servers {
		if existing.Name == name {
			srv = existing
			break
		}
	}
	if srv == nil {
		srv = &domain.Server{ID: domain.ServerID(strconv.Itoa(len(s.servers) + 1)), Name: name}
		s.servers = append(s.servers, srv)
	}
	for _, chName := range channels {
		found := false
		for _, ch := range srv.Channels {
			if ch.Name == chName {
				found = true
				break
			}
		}
		if found {
			continue
		}
		id := domain.ChannelID(chName)
		if _, taken := s.channels[id]; taken {
			id = domain.ChannelID(string(srv.ID) + "-" + chName)
		}
		ch := domain.Channel{ID: id, ServerID: srv.ID, Name: chName}
		srv.Channels = append(srv.Channels, ch)
		s.channels[id] = &ch
	}
	return cloneServer(srv), nil
}

func cloneServer(srv *domain.Server) *domain.Server {
	cp := *srv
	cp.Channels = append([]domain.Channel(nil), srv.Channels...)
	return &cp
}

func (s *Store) GetChannel(_ context.Context, id domain.ChannelID) (*domain.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", id, domain.ErrNotFound)
	}
	cp := *ch
	return &cp, nil
}

func (s *Store) ListServers(_ context.Context) ([]domain.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		out = append(out, *cloneServer(srv))
	}
	return out, nil
}

func (s *Store) CreateMessage(_ context.Context, m domain.NewMessage) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	author, ok := s.users[m.AuthorID]
	if !ok {
		return nil, fmt.Errorf("author %s: %w", m.AuthorID, domain.ErrNotFound)
	}
	switch {
	case m.ChannelID != "":
		if _, ok := s.channels[m.ChannelID]; !ok {
			return nil, fmt.Errorf("channel %s: %w", m.ChannelID, domain.ErrNotFound)
		}
	case m.ConversationID != "":
		if _, ok := s.convs[m.ConversationID]; !ok {
			return nil, fmt.Errorf("conversation %s: %w", m.ConversationID, domain.ErrNotFound)
		}
	default:
		return nil, fmt.Errorf("message without channel or conversation")
	}
	s.nextMsg++
	msg := domain.Message{
		ID:             s.nextMsg,
		Type:           m.Type,
		UserID:         author.ID,
		Username:       author.Username,
		DisplayName:    author.Name(),
		AvatarURL:      author.AvatarURL,
		Text:           m.Text,
		FileURL:        m.FileURL,
		ChannelID:      m.ChannelID,
		ConversationID: m.ConversationID,
		Timestamp:      s.now(),
	}
	if m.ChannelID != "" {
		s.byChan[m.ChannelID] = append(s.byChan[m.ChannelID], msg)
	} else {
		s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], msg)
	}
	return &msg, nil
}

func tail(msgs []domain.Message, limit int) []domain.Message {
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}
	out := make([]domain.Message, limit)
	copy(out, msgs[len(msgs)-limit:])
	return out
}

func (s *Store) ChannelHistory(_ context.Context, id domain.ChannelID, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.byChan[id], limit), nil
}

func (s *Store) ConversationHistory(_ context.Context, id domain.ConversationID, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return tail(s.byConv[id], limit), nil
}

func (s *Store) summary(id domain.UserID) domain.UserSummary {
	if u, ok := s.users[id]; ok {
		return u.Summary()
	}
	return domain.UserSummary{ID: id}
}

func (s *Store) friendship(row *friendshipRow) *domain.Friendship {
	return &domain.Friendship{
		ID:        row.id,
		Requester: s.summary(row.requester),
		Addressee: s.summary(row.addressee),
		Status:    row.status,
		CreatedAt: row.createdAt,
		UpdatedAt: row.updatedAt,
	}
}

func (s *Store) RequestFriendship(_ context.Context, from, to domain.UserID) (*domain.Friendship, error) {
	if from == to {
		return nil, domain.ErrSelfRelation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := pairOf(from, to)
	if id, ok := s.friendIx[key]; ok {
		row := s.friends[id]
		if row.status == domain.FriendshipDeclined {
			row.requester, row.addressee = from, to
			row.status = domain.FriendshipPending
			row.updatedAt = now
		}
		return s.friendship(row), nil
	}
	row := &friendshipRow{
		id:        domain.FriendshipID(uuid.NewString()),
		requester: from,
		addressee: to,
		status:    domain.FriendshipPending,
		createdAt: now,
		updatedAt: now,
	}
	s.friends[row.id] = row
	s.friendIx[key] = row.id
	return s.friendship(row), nil
}

func (s *Store) GetFriendship(_ context.Context, id domain.FriendshipID) (*domain.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.friends[id]
	if !ok {
		return nil, fmt.Errorf("friendship %s: %w", id, domain.ErrNotFound)
	}
	return s.friendship(row), nil
}

func (s *Store) SetFriendshipStatus(_ context.Context, id domain.FriendshipID, status domain.FriendshipStatus) (*domain.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.friends[id]
	if !ok {
		return nil, fmt.Errorf("friendship %s: %w", id, domain.ErrNotFound)
	}
	row.status = status
	row.updatedAt = s.now()
	return s.friendship(row), nil
}

func (s *Store) ListFriendships(_ context.Context, uid domain.UserID) ([]domain.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Friendship{}
	for _, row := range s.friends {
		if row.requester == uid || row.addressee == uid {
			out = append(out, *s.friendship(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) EnsureConversation(_ context.Context, a, b domain.UserID) (*domain.Conversation, error) {
	if a == b {
		return nil, domain.ErrSelfRelation
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairOf(a, b)
	if id, ok := s.convIx[key]; ok {
		cp := *s.convs[id]
		return &cp, nil
	}
	conv := &domain.Conversation{
		ID:           domain.ConversationID(uuid.NewString()),
		Participants: [2]domain.UserID{key[0], key[1]},
		CreatedAt:    s.now(),
	}
	s.convs[conv.ID] = conv
	s.convIx[key] = conv.ID
	cp := *conv
	return &cp, nil
}

func (s *Store) GetConversation(_ context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, domain.ErrNotFound)
	}
	cp := *conv
	return &cp, nil
}

func (s *Store) ListDMs(_ context.Context, uid domain.UserID) ([]domain.DMSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.DMSummary{}
	for _, conv := range s.convs {
		if !conv.HasParticipant(uid) {
			continue
		}
		sum := domain.DMSummary{
			ConversationID: conv.ID,
			User:           s.summary(conv.Other(uid)),
			UpdatedAt:      conv.CreatedAt,
		}
		if msgs := s.byConv[conv.ID]; len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			sum.LastMessage = &domain.MessagePreview{
				ID:        last.ID,
				Type:      last.Type,
				UserID:    last.UserID,
				Text:      last.Text,
				Timestamp: last.Timestamp,
			}
			sum.UpdatedAt = last.Timestamp
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}
