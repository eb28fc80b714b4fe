package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDuplicateSession = errors.New("session already registered")

type sessionEntry struct {
	Session core.MemberSession
	Cancel  context.CancelFunc
	Rooms   domain.RoomSet
}

// Registry tracks live authenticated connections and the rooms each one
// currently holds. The per-connection RoomSet is the connection->room index;
// room->connection membership lives in the RoomManager.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	byUser   map[domain.UserID]map[core.SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		byUser:   make(map[domain.UserID]map[core.SessionID]struct{}),
	}
}

func (r *Registry) Register(sess core.MemberSession, cancel context.CancelFunc) error {
	sid := sess.ID()
	uid := sess.Meta().Identity.ID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; ok {
		return ErrDuplicateSession
	}
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	set, ok := r.byUser[uid]
	if !ok {
		set = make(map[core.SessionID]struct{})
		r.byUser[uid] = set
	}
	set[sid] = struct{}{}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Msg("registered session")
	return nil
}

// Unregister drops the connection and returns the rooms it held.
func (r *Registry) Unregister(sid core.SessionID) (domain.RoomSet, core.MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.RoomSet{}, nil, false
	}
	delete(r.sessions, sid)
	uid := e.Session.Meta().Identity.ID
	if set, ok := r.byUser[uid]; ok {
		delete(set, sid)
		if len(set) == 0 {
			delete(r.byUser, uid)
		}
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unregistered session")
	return e.Rooms, e.Session, true
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) RoomsOf(sid core.SessionID) (domain.RoomSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.RoomSet{}, false
	}
	return e.Rooms, true
}

func (r *Registry) RoomOf(sid core.SessionID, kind domain.RoomKind) (domain.RoomKey, bool) {
	rooms, ok := r.RoomsOf(sid)
	if !ok {
		return "", false
	}
	key := rooms.Get(kind)
	return key, key != ""
}

// UpdateRoom sets the slot for key's kind and returns what was there before.
func (r *Registry) UpdateRoom(sid core.SessionID, key domain.RoomKey) (domain.RoomKey, bool) {
	kind, ok := key.Kind()
	if !ok {
		return "", false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	prev := e.Rooms.Get(kind)
	e.Rooms.Set(kind, key)
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(key)).Msg("updated room")
	return prev, true
}

func (r *Registry) RemoveRoom(sid core.SessionID, kind domain.RoomKind) domain.RoomKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ""
	}
	prev := e.Rooms.Get(kind)
	e.Rooms.Set(kind, "")
	log.Debug().Str("module", "app.registry").Str("sid", string(sid)).Str("kind", kind.String()).Msg("removed room association")
	return prev
}

// SessionsOf lists the live connections of one identity, sorted by id.
func (r *Registry) SessionsOf(uid domain.UserID) []core.MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[uid]
	out := make([]core.MemberSession, 0, len(set))
	for sid := range set {
		out = append(out, r.sessions[sid].Session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) SessionIDs() []core.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SessionID, 0, len(r.sessions))
	for sid := range r.sessions {
		out = append(out, sid)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Cancel tears the connection down from the transport side.
func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
