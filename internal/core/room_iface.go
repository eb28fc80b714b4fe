package core

import (
	"github.com/dkeye/cordor/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Key() domain.RoomKey
	MemberCount() int
	Has(sid SessionID) bool
	Member(sid SessionID) (MemberSession, bool)
	// Roster is sorted by connection id.
	Roster() []domain.RosterEntry

	AddMember(ms MemberSession)
	RemoveMember(sid SessionID) bool
	// Broadcast delivers to every current member except `except`
	// (empty means everyone).
	Broadcast(except SessionID, data Frame) PublishResult
}

type RoomInfo struct {
	Key         domain.RoomKey `json:"key"`
	MemberCount int            `json:"client_count"`
}

type RoomManager interface {
	GetOrCreate(key domain.RoomKey) RoomService
	Get(key domain.RoomKey) (RoomService, bool)
	List() []RoomInfo
	// StopRoom forgets the room if it has no members left.
	StopRoom(key domain.RoomKey)
}
