package domain

// RosterEntry is one voice participant as published to the room.
// Derived from membership, never persisted.
type RosterEntry struct {
	ConnectionID string `json:"connectionId"`
	UserID       UserID `json:"userId"`
	DisplayName  string `json:"displayName"`
}

// Member represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	ConnectionID string
	Identity     *Identity
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(connectionID string, identity *Identity) *Member {
	return &Member{ConnectionID: connectionID, Identity: identity}
}

func (m *Member) RosterEntry() RosterEntry {
	return RosterEntry{
		ConnectionID: m.ConnectionID,
		UserID:       m.Identity.ID,
		DisplayName:  m.Identity.DisplayName,
	}
}
