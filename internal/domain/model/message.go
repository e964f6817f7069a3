package model

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind distinguishes user-authored text from server-generated
// notices (join/leave system messages).
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindSystem MessageKind = "system"
)

// Message is a single entry in a room's log. For Kind == text, AuthorID
// must be set; for Kind == system it may be the zero UUID. Ordering within
// a room is (CreatedAt, ID).
type Message struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	AuthorID  uuid.UUID
	Author    string // denormalized display name, populated for wire replies
	Content   string
	Kind      MessageKind
	CreatedAt time.Time
}

// HasAuthor reports whether the message carries a real author, as opposed
// to a system notice.
func (m *Message) HasAuthor() bool {
	return m.AuthorID != uuid.Nil
}
