package app

import (
	"sort"
	"sync"

	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/domain"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomKey]core.RoomService
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{rooms: make(map[domain.RoomKey]core.RoomService)}
}

func (f *RoomManagerImpl) GetOrCreate(key domain.RoomKey) core.RoomService {
	f.mu.RLock()
	room, ok := f.rooms[key]
	f.mu.RUnlock()
	if ok {
		return room
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok = f.rooms[key]; ok {
		return room
	}
	room = core.NewRoomService(key)
	f.rooms[key] = room
	return room
}

func (f *RoomManagerImpl) Get(key domain.RoomKey) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[key]
	return room, ok
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for key, r := range f.rooms {
		out = append(out, core.RoomInfo{Key: key, MemberCount: r.MemberCount()})
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (f *RoomManagerImpl) StopRoom(key domain.RoomKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rooms[key]; ok && r.MemberCount() == 0 {
		delete(f.rooms, key)
	}
}
