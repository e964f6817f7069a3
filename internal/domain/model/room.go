package model

import (
	"time"

	"github.com/google/uuid"
)

// Room is a named multi-party conversation. Invariant: Private implies
// CredentialHash is non-empty.
type Room struct {
	ID             uuid.UUID
	Name           string
	Description    string
	Private        bool
	CredentialHash string
	CreatorID      uuid.UUID
	CreatedAt      time.Time
}

// Membership is the (user, room) join row. Re-joining flips Active back to
// true and refreshes JoinedAt; leaving is a soft delete (Active=false).
type Membership struct {
	UserID   uuid.UUID
	RoomID   uuid.UUID
	JoinedAt time.Time
	Active   bool
}
