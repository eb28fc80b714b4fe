package core

import (
	"sort"
	"sync"

	"github.com/dkeye/cordor/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	key   domain.RoomKey
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewRoomService(key domain.RoomKey) RoomService {
	return &roomImpl{
		key:   key,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Key() domain.RoomKey { return r.key }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *roomImpl) Has(sid SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.bySID[sid]
	return ok
}

func (r *roomImpl) Member(sid SessionID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.bySID[sid]
	return ms, ok
}

func (r *roomImpl) AddMember(ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[ms.ID()] = ms
	log.Debug().Str("module", "core.room").Str("room", string(r.key)).Str("sid", string(ms.ID())).Msg("member added")
}

func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return false
	}
	delete(r.bySID, sid)
	log.Debug().Str("module", "core.room").Str("room", string(r.key)).Str("sid", string(sid)).Msg("member removed")
	return true
}

func (r *roomImpl) Broadcast(except SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if except != "" && sid == except {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.key)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) Roster() []domain.RosterEntry {
	r.mu.RLock()
	out := make([]domain.RosterEntry, 0, len(r.bySID))
	for _, ms := range r.bySID {
		out = append(out, ms.Meta().RosterEntry())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}
