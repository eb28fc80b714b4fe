package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/dkeye/cordor/internal/app"
	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/dkeye/cordor/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a SignalConnection that keeps every decoded envelope.
type recorder struct {
	mu       sync.Mutex
	frames   []core.Envelope
	full     bool
	canceled bool
}

func (r *recorder) TrySend(f core.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return core.ErrBackpressure
	}
	var env core.Envelope
	if err := json.Unmarshal(f, &env); err != nil {
		return err
	}
	r.frames = append(r.frames, env)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func (r *recorder) all(event string) []json.RawMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []json.RawMessage
	for _, env := range r.frames {
		if env.Type == event {
			out = append(out, env.Data)
		}
	}
	return out
}

func (r *recorder) count(event string) int { return len(r.all(event)) }

func last[T any](t *testing.T, r *recorder, event string) T {
	t.Helper()
	got := r.all(event)
	require.NotEmpty(t, got, "no %s event", event)
	var v T
	require.NoError(t, json.Unmarshal(got[len(got)-1], &v))
	return v
}

type harness struct {
	o     *Orchestrator
	store *memory.Store
	srv   *domain.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	for _, name := range []string{"alice", "bob", "carol"} {
		require.NoError(t, st.SaveUser(ctx, &domain.User{ID: domain.UserID(name), Username: name, DisplayName: name}))
	}
	srv, err := st.EnsureServer(ctx, "home", []string{"general", "random"})
	require.NoError(t, err)
	return &harness{
		store: st,
		srv:   srv,
		o: &Orchestrator{
			Registry: app.NewRegistry(),
			Rooms:    app.NewRoomManager(),
			Policy:   app.SimplePolicy{},
			Store:    st,
			Features: Features{Friends: true, DirectMessages: true},
		},
	}
}

func (h *harness) connect(t *testing.T, sid, uid string) *recorder {
	t.Helper()
	rec := &recorder{}
	ident := &domain.Identity{ID: domain.UserID(uid), Username: uid, DisplayName: uid}
	sess := core.NewMemberSession(domain.NewMember(sid, ident), rec)
	require.NoError(t, h.o.Connect(context.Background(), sess, func() { rec.canceled = true }))
	return rec
}

func TestConnectPushesSnapshots(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "c-a", "alice")

	ready := last[core.ReadyEvent](t, a, core.EventReady)
	assert.Equal(t, core.SessionID("c-a"), ready.ConnectionID)
	assert.Equal(t, domain.UserID("alice"), ready.User.ID)

	st := last[domain.FriendsState](t, a, core.EventFriendsState)
	assert.NotNil(t, st.Friends)
	assert.Empty(t, st.PendingIncoming)
	assert.Equal(t, 1, a.count(core.EventDMList))
}

func TestConnectWithFeaturesDisabledSkipsSnapshots(t *testing.T) {
	h := newHarness(t)
	h.o.Features = Features{}
	a := h.connect(t, "c-a", "alice")

	assert.Equal(t, 0, a.count(core.EventFriendsState))
	assert.Equal(t, 0, a.count(core.EventDMList))

	_, err := h.o.SendFriendRequest(context.Background(), "c-a", "bob")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
	_, err = h.o.StartDM(context.Background(), "c-a", "bob")
	assert.ErrorIs(t, err, ErrFeatureDisabled)
}

func TestChannelHistoryAndBroadcast(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")

	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))
	hist := last[[]domain.Message](t, a, core.EventMessageHistory)
	assert.NotNil(t, hist)
	assert.Empty(t, hist)

	joined := last[domain.Message](t, a, core.EventReceiveMessage)
	assert.Equal(t, domain.MessageSystem, joined.Type)
	assert.Equal(t, "alice joined the channel", joined.Text)

	msg, err := h.o.SendMessage(ctx, "c-a", domain.MessageInput{Type: domain.MessageText, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.MessageID(1), msg.ID)

	got := last[domain.Message](t, a, core.EventReceiveMessage)
	assert.Equal(t, domain.MessageID(1), got.ID)
	assert.Equal(t, "hi", got.Text)
	assert.Equal(t, domain.UserID("alice"), got.UserID)
	assert.Equal(t, 0, b.count(core.EventReceiveMessage), "bob is not in the channel yet")

	require.NoError(t, h.o.JoinChannel(ctx, "c-b", h.srv.ID, "general"))
	hist = last[[]domain.Message](t, b, core.EventMessageHistory)
	require.Len(t, hist, 1)
	assert.Equal(t, domain.MessageID(1), hist[0].ID)
	assert.Equal(t, "hi", hist[0].Text)

	notice := last[domain.Message](t, a, core.EventReceiveMessage)
	assert.Equal(t, "bob joined the channel", notice.Text)
}

func TestSendRequiresChannel(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c-a", "alice")

	_, err := h.o.SendMessage(context.Background(), "c-a", domain.MessageInput{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotInChannel)

	_, err = h.o.SendMessage(context.Background(), "c-a", domain.MessageInput{Type: domain.MessageSystem, Text: "x"})
	assert.ErrorIs(t, err, domain.ErrMessageType)
}

func TestJoinUnknownChannelKeepsMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "c-a", "alice")
	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))

	assert.ErrorIs(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "nope"), ErrChannelNotFound)

	rooms, ok := h.o.RoomsOf("c-a")
	require.True(t, ok)
	assert.Equal(t, domain.ChannelRoom(h.srv.ID, "general"), rooms.Channel)
}

func TestServerBoundary(t *testing.T) {
	h := newHarness(t)
	h.o.EnforceServerBoundary = true
	h.connect(t, "c-a", "alice")

	err := h.o.JoinChannel(context.Background(), "c-a", "other-server", "general")
	assert.ErrorIs(t, err, ErrChannelNotFound)

	h.o.EnforceServerBoundary = false
	assert.NoError(t, h.o.JoinChannel(context.Background(), "c-a", "other-server", "general"))
	rooms, _ := h.o.RoomsOf("c-a")
	assert.Equal(t, domain.ChannelRoom(h.srv.ID, "general"), rooms.Channel)
}

func TestMembershipExclusivityAndNoGhostDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")

	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))
	require.NoError(t, h.o.JoinChannel(ctx, "c-b", h.srv.ID, "general"))
	a.reset()
	require.NoError(t, h.o.JoinChannel(ctx, "c-b", h.srv.ID, "random"))

	left := last[domain.Message](t, a, core.EventReceiveMessage)
	assert.Equal(t, "bob left the channel", left.Text)

	rooms, _ := h.o.RoomsOf("c-b")
	assert.Equal(t, domain.ChannelRoom(h.srv.ID, "random"), rooms.Channel)
	general, ok := h.o.Rooms.Get(domain.ChannelRoom(h.srv.ID, "general"))
	require.True(t, ok)
	assert.False(t, general.Has("c-b"))

	b.reset()
	_, err := h.o.SendMessage(ctx, "c-a", domain.MessageInput{Text: "only general"})
	require.NoError(t, err)
	assert.Equal(t, 0, b.count(core.EventReceiveMessage))
}

type failingStore struct {
	*memory.Store
}

func (failingStore) CreateMessage(context.Context, domain.NewMessage) (*domain.Message, error) {
	return nil, assert.AnError
}

func TestPersistenceFailureBroadcastsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.o.Store = failingStore{h.store}
	a := h.connect(t, "c-a", "alice")
	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))
	a.reset()

	_, err := h.o.SendMessage(ctx, "c-a", domain.MessageInput{Text: "lost"})
	assert.ErrorIs(t, err, ErrStore)
	assert.Equal(t, 0, a.count(core.EventReceiveMessage))

	rooms, _ := h.o.RoomsOf("c-a")
	assert.NotEmpty(t, rooms.Channel)
}

type historyDownStore struct {
	*memory.Store
}

func (historyDownStore) ChannelHistory(context.Context, domain.ChannelID, int) ([]domain.Message, error) {
	return nil, assert.AnError
}

func (historyDownStore) ConversationHistory(context.Context, domain.ConversationID, int) ([]domain.Message, error) {
	return nil, assert.AnError
}

func TestHistoryFailureKeepsMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")
	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))
	require.NoError(t, h.o.JoinChannel(ctx, "c-b", h.srv.ID, "general"))
	a.reset()
	b.reset()

	h.o.Store = historyDownStore{h.store}
	err := h.o.JoinChannel(ctx, "c-a", h.srv.ID, "random")
	assert.ErrorIs(t, err, ErrStore)

	rooms, _ := h.o.RoomsOf("c-a")
	assert.Equal(t, domain.ChannelRoom(h.srv.ID, "general"), rooms.Channel)
	general, ok := h.o.Rooms.Get(domain.ChannelRoom(h.srv.ID, "general"))
	require.True(t, ok)
	assert.True(t, general.Has("c-a"))
	if random, ok := h.o.Rooms.Get(domain.ChannelRoom(h.srv.ID, "random")); ok {
		assert.False(t, random.Has("c-a"))
	}
	assert.Equal(t, 0, a.count(core.EventMessageHistory))
	assert.Equal(t, 0, a.count(core.EventReceiveMessage))
	assert.Equal(t, 0, b.count(core.EventReceiveMessage), "no left or joined notice")

	h.o.Store = h.store
	_, err = h.o.SendMessage(ctx, "c-b", domain.MessageInput{Text: "still here?"})
	require.NoError(t, err)
	assert.Equal(t, "still here?", last[domain.Message](t, a, core.EventReceiveMessage).Text)
}

func TestDMHistoryFailureKeepsMembership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	first, err := h.o.StartDM(ctx, "c-a", "bob")
	require.NoError(t, err)
	second, err := h.o.StartDM(ctx, "c-a", "carol")
	require.NoError(t, err)
	require.NoError(t, h.o.JoinDM(ctx, "c-a", first.ID))
	a.reset()

	h.o.Store = historyDownStore{h.store}
	assert.ErrorIs(t, h.o.JoinDM(ctx, "c-a", second.ID), ErrStore)

	rooms, _ := h.o.RoomsOf("c-a")
	assert.Equal(t, domain.DMRoom(first.ID), rooms.DM)
	assert.Equal(t, 0, a.count(core.EventDMHistory))
}

func TestRoomLocksBoundedByRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "c-a", "alice")
	for i := 0; i < 5; i++ {
		require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))
		require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "random"))
		require.NoError(t, h.o.JoinVoice("c-a", "lobby"))
		require.NoError(t, h.o.LeaveVoice("c-a"))
	}
	n := 0
	h.o.seq.Range(func(any, any) bool { n++; return true })
	assert.Equal(t, 2, n)
}

func TestBroadcastMessagesAreInHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.o.SendMessage(ctx, "c-a", domain.MessageInput{Text: "x"})
		}()
	}
	wg.Wait()

	hist, err := h.store.ChannelHistory(ctx, "general", 100)
	require.NoError(t, err)
	inHistory := map[domain.MessageID]bool{}
	for _, m := range hist {
		inHistory[m.ID] = true
	}

	var prev domain.MessageID
	for _, raw := range a.all(core.EventReceiveMessage) {
		var m domain.Message
		require.NoError(t, json.Unmarshal(raw, &m))
		if m.Type == domain.MessageSystem {
			continue
		}
		assert.True(t, inHistory[m.ID], "message %d not in history", m.ID)
		assert.Greater(t, m.ID, prev, "broadcast order follows persistence order")
		prev = m.ID
	}
	assert.Equal(t, domain.MessageID(20), prev)
}

func TestVoiceRosterAndRelay(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")

	require.NoError(t, h.o.JoinVoice("c-a", "living-room"))
	require.NoError(t, h.o.JoinVoice("c-b", "living-room"))

	for _, rec := range []*recorder{a, b} {
		roster := last[core.RosterEvent](t, rec, core.EventJoinVoice)
		assert.Equal(t, "living-room", roster.RoomID)
		require.Len(t, roster.Users, 2)
		assert.Equal(t, "c-a", roster.Users[0].ConnectionID)
		assert.Equal(t, "c-b", roster.Users[1].ConnectionID)
	}

	a.reset()
	b.reset()
	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	require.NoError(t, h.o.Relay("c-a", core.EventOffer, core.SignalRequest{TargetConnectionID: "c-b", Payload: payload}))

	assert.Equal(t, 0, a.count(core.EventOffer))
	offer := last[core.SignalEvent](t, b, core.EventOffer)
	assert.Equal(t, core.SessionID("c-a"), offer.SourceConnectionID)
	assert.Equal(t, core.SessionID("c-b"), offer.TargetConnectionID)
	assert.JSONEq(t, string(payload), string(offer.Payload))

	require.NoError(t, h.o.LeaveVoice("c-b"))
	roster := last[core.RosterEvent](t, a, core.EventLeaveVoice)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, "c-a", roster.Users[0].ConnectionID)
}

func TestRelayConfinement(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")
	c := h.connect(t, "c-c", "carol")
	payload := json.RawMessage(`{}`)

	err := h.o.Relay("c-a", core.EventOffer, core.SignalRequest{TargetConnectionID: "c-b", Payload: payload})
	assert.ErrorIs(t, err, ErrNotInVoice)

	require.NoError(t, h.o.JoinVoice("c-a", "one"))
	require.NoError(t, h.o.JoinVoice("c-b", "two"))

	tests := []struct {
		name   string
		kind   string
		target core.SessionID
		want   error
	}{
		{"other room", core.EventOffer, "c-b", ErrTargetNotInRoom},
		{"not in voice", core.EventAnswer, "c-c", ErrTargetNotInRoom},
		{"unknown connection", core.EventICECandidate, "ghost", ErrTargetNotInRoom},
		{"self", core.EventOffer, "c-a", ErrInvalidTarget},
		{"bad kind", "webrtc_bogus", "c-b", ErrUnknownSignal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.o.Relay("c-a", tt.kind, core.SignalRequest{TargetConnectionID: tt.target, Payload: payload})
			assert.ErrorIs(t, err, tt.want)
		})
	}
	for _, rec := range []*recorder{b, c} {
		assert.Equal(t, 0, rec.count(core.EventOffer))
		assert.Equal(t, 0, rec.count(core.EventAnswer))
		assert.Equal(t, 0, rec.count(core.EventICECandidate))
	}

	for _, p := range []string{"", "null", "  null\n", "   "} {
		err = h.o.Relay("c-a", core.EventOffer, core.SignalRequest{TargetConnectionID: "c-b", Payload: json.RawMessage(p)})
		assert.ErrorIs(t, err, ErrEmptyPayload, "payload %q", p)
	}
}

func TestSwitchVoiceRoomRepublishesBoth(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "c-a", "alice")
	h.connect(t, "c-b", "bob")
	require.NoError(t, h.o.JoinVoice("c-a", "one"))
	require.NoError(t, h.o.JoinVoice("c-b", "one"))
	a.reset()

	require.NoError(t, h.o.JoinVoice("c-b", "two"))

	roster := last[core.RosterEvent](t, a, core.EventLeaveVoice)
	assert.Equal(t, "one", roster.RoomID)
	require.Len(t, roster.Users, 1)
	assert.Len(t, h.o.Roster("two"), 1)
	rooms, _ := h.o.RoomsOf("c-b")
	assert.Equal(t, domain.VoiceRoom("two"), rooms.Voice)
}

func TestLeaveVoiceWhenNotInRoomIsNoop(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c-a", "alice")
	assert.NoError(t, h.o.LeaveVoice("c-a"))
	assert.ErrorIs(t, h.o.LeaveVoice("ghost"), ErrNotConnected)
}

func TestDisconnectCleansEveryRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	h.connect(t, "c-b", "bob")

	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))
	require.NoError(t, h.o.JoinChannel(ctx, "c-b", h.srv.ID, "general"))
	require.NoError(t, h.o.JoinVoice("c-a", ""))
	require.NoError(t, h.o.JoinVoice("c-b", ""))
	a.reset()

	h.o.Disconnect("c-b")
	h.o.Disconnect("c-b")

	_, ok := h.o.RoomsOf("c-b")
	assert.False(t, ok)
	roster := h.o.Roster(domain.DefaultVoiceRoom)
	require.Len(t, roster, 1)
	assert.Equal(t, "c-a", roster[0].ConnectionID)

	leave := last[core.RosterEvent](t, a, core.EventLeaveVoice)
	assert.Len(t, leave.Users, 1)
	notice := last[domain.Message](t, a, core.EventReceiveMessage)
	assert.Equal(t, "bob left the chat", notice.Text)

	general, ok := h.o.Rooms.Get(domain.ChannelRoom(h.srv.ID, "general"))
	require.True(t, ok)
	assert.False(t, general.Has("c-b"))

	err := h.o.Relay("c-a", core.EventOffer, core.SignalRequest{TargetConnectionID: "c-b", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrTargetNotInRoom)
}

func TestLastMemberLeavingForgetsRoom(t *testing.T) {
	h := newHarness(t)
	h.connect(t, "c-a", "alice")
	require.NoError(t, h.o.JoinVoice("c-a", "solo"))
	h.o.Disconnect("c-a")

	_, ok := h.o.Rooms.Get(domain.VoiceRoom("solo"))
	assert.False(t, ok)
}

func TestFriendRequestIdempotence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")

	first, err := h.o.SendFriendRequest(ctx, "c-a", "bob")
	require.NoError(t, err)
	second, err := h.o.SendFriendRequest(ctx, "c-a", "bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	st := last[domain.FriendsState](t, b, core.EventFriendsState)
	require.Len(t, st.PendingIncoming, 1)
	assert.Equal(t, domain.UserID("alice"), st.PendingIncoming[0].User.ID)

	rows, err := h.store.ListFriendships(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestFriendRequestValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "c-a", "alice")

	_, err := h.o.SendFriendRequest(ctx, "c-a", "alice")
	assert.ErrorIs(t, err, domain.ErrSelfRelation)
	_, err = h.o.SendFriendRequest(ctx, "c-a", "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestAcceptFriendshipCreatesDM(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")

	req, err := h.o.SendFriendRequest(ctx, "c-a", "bob")
	require.NoError(t, err)

	_, err = h.o.RespondFriendRequest(ctx, "c-a", req.ID, true)
	assert.ErrorIs(t, err, ErrNotAddressee)

	_, err = h.o.RespondFriendRequest(ctx, "c-b", req.ID, true)
	require.NoError(t, err)

	for who, rec := range map[domain.UserID]*recorder{"bob": a, "alice": b} {
		list := last[[]domain.DMSummary](t, rec, core.EventDMList)
		require.Len(t, list, 1)
		assert.Equal(t, who, list[0].User.ID)

		st := last[domain.FriendsState](t, rec, core.EventFriendsState)
		require.Len(t, st.Friends, 1)
		assert.Equal(t, who, st.Friends[0].ID)
		assert.Empty(t, st.PendingIncoming)
		assert.Empty(t, st.PendingOutgoing)
	}

	_, err = h.o.RespondFriendRequest(ctx, "c-b", req.ID, false)
	assert.ErrorIs(t, err, ErrRequestClosed)
	_, err = h.o.SendFriendRequest(ctx, "c-a", "bob")
	assert.ErrorIs(t, err, ErrAlreadyFriends)
}

func TestDeclineFriendship(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	h.connect(t, "c-b", "bob")

	req, err := h.o.SendFriendRequest(ctx, "c-a", "bob")
	require.NoError(t, err)
	h.connect(t, "c-c", "carol")
	_, err = h.o.RespondFriendRequest(ctx, "c-c", req.ID, true)
	assert.ErrorIs(t, err, ErrRequestNotFound)

	_, err = h.o.RespondFriendRequest(ctx, "c-b", req.ID, false)
	require.NoError(t, err)

	st := last[domain.FriendsState](t, a, core.EventFriendsState)
	assert.Empty(t, st.Friends)
	assert.Empty(t, st.PendingOutgoing)

	list, err := h.store.ListDMs(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDirectMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")
	h.connect(t, "c-c", "carol")

	conv, err := h.o.StartDM(ctx, "c-a", "bob")
	require.NoError(t, err)
	started := last[core.DMStartedEvent](t, a, core.EventDMStarted)
	assert.Equal(t, conv.ID, started.ConversationID)
	assert.Equal(t, domain.UserID("bob"), started.User.ID)
	assert.Len(t, last[[]domain.DMSummary](t, b, core.EventDMList), 1)

	again, err := h.o.StartDM(ctx, "c-b", "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)

	assert.ErrorIs(t, h.o.JoinDM(ctx, "c-c", conv.ID), ErrNotParticipant)
	_, err = h.o.SendDM(ctx, "c-c", conv.ID, domain.MessageInput{Text: "sneaky"})
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.ErrorIs(t, h.o.JoinDM(ctx, "c-a", "missing"), ErrConversationNotFound)

	require.NoError(t, h.o.JoinDM(ctx, "c-a", conv.ID))
	hist := last[core.DMHistoryEvent](t, a, core.EventDMHistory)
	assert.Equal(t, conv.ID, hist.ConversationID)
	assert.Empty(t, hist.Messages)

	b.reset()
	msg, err := h.o.SendDM(ctx, "c-b", conv.ID, domain.MessageInput{Text: "hey"})
	require.NoError(t, err)

	got := last[domain.Message](t, a, core.EventReceiveDM)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, conv.ID, got.ConversationID)
	assert.Equal(t, 0, b.count(core.EventReceiveDM), "bob is not viewing the conversation")

	list := last[[]domain.DMSummary](t, b, core.EventDMList)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "hey", list[0].LastMessage.Text)

	rooms, _ := h.o.RoomsOf("c-a")
	assert.Equal(t, domain.DMRoom(conv.ID), rooms.DM)
	assert.Empty(t, rooms.Channel)
}

func TestBackpressureKicksSlowConnection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")
	require.NoError(t, h.o.JoinChannel(ctx, "c-a", h.srv.ID, "general"))
	require.NoError(t, h.o.JoinChannel(ctx, "c-b", h.srv.ID, "general"))

	b.mu.Lock()
	b.full = true
	b.mu.Unlock()
	_, err := h.o.SendMessage(ctx, "c-a", domain.MessageInput{Text: "flood"})
	require.NoError(t, err)

	assert.True(t, b.canceled)
}

func TestShutdownCancelsEveryConnection(t *testing.T) {
	h := newHarness(t)
	a := h.connect(t, "c-a", "alice")
	b := h.connect(t, "c-b", "bob")

	h.o.Shutdown()

	assert.True(t, a.canceled)
	assert.True(t, b.canceled)
}
