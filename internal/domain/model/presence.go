package model

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is the online/offline lifecycle state of a user.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// Presence is the fast-store record for a single user. ActiveRooms is
// authoritative over any DB replica of room membership because membership
// can change out from under a connected user.
type Presence struct {
	UserID uuid.UUID `json:"user_id"`
	// Username is resolved lazily from the user directory; the fast-store
	// record itself only carries the id.
	Username    string         `json:"username,omitempty"`
	Status      PresenceStatus `json:"status"`
	LastSeen    time.Time      `json:"last_seen"`
	ActiveRooms []uuid.UUID    `json:"active_rooms"`
}

// IsOnline reports the status as a boolean for wire convenience.
func (p Presence) IsOnline() bool {
	return p.Status == PresenceOnline
}

// InRoom reports whether the given room is in the active-rooms set.
func (p Presence) InRoom(roomID uuid.UUID) bool {
	for _, r := range p.ActiveRooms {
		if r == roomID {
			return true
		}
	}
	return false
}
