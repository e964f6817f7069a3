package wire

import (
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/model"
)

// WireMessage is the client-facing shape of model.Message.
type WireMessage struct {
	ID        uuid.UUID `json:"id"`
	RoomID    uuid.UUID `json:"room_id"`
	AuthorID  uuid.UUID `json:"author_id,omitempty"`
	Author    string    `json:"author,omitempty"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

func FromMessage(m *model.Message) WireMessage {
	wm := WireMessage{
		ID:        m.ID,
		RoomID:    m.RoomID,
		Content:   m.Content,
		Kind:      string(m.Kind),
		CreatedAt: m.CreatedAt,
		Author:    m.Author,
	}
	if m.HasAuthor() {
		wm.AuthorID = m.AuthorID
	}
	return wm
}

func FromMessages(ms []*model.Message) []WireMessage {
	out := make([]WireMessage, 0, len(ms))
	for _, m := range ms {
		out = append(out, FromMessage(m))
	}
	return out
}

// WirePresence is the client-facing shape of model.Presence.
type WirePresence struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

func FromPresence(p model.Presence) WirePresence {
	return WirePresence{
		UserID:   p.UserID,
		Username: p.Username,
		Status:   string(p.Status),
		LastSeen: p.LastSeen,
	}
}

// FromPresences maps a room-scoped snapshot for the wire. Usernames carry
// over only when the snapshot was annotated by the user directory; the
// presence hash itself only stores ids.
func FromPresences(ps []model.Presence) []WirePresence {
	out := make([]WirePresence, 0, len(ps))
	for _, p := range ps {
		out = append(out, FromPresence(p))
	}
	return out
}

// RoomJoinedPayload answers join_room.
type RoomJoinedPayload struct {
	RoomID    uuid.UUID      `json:"room_id"`
	Presences []WirePresence `json:"presences"`
}

// RoomLeftPayload answers leave_room.
type RoomLeftPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

// RoomUpdatePayload is the body of every room_update broadcast.
type RoomUpdatePayload struct {
	Type      RoomUpdateType `json:"type"`
	RoomID    uuid.UUID      `json:"room_id,omitempty"`
	Message   *WireMessage   `json:"message,omitempty"`
	Presences []WirePresence `json:"presences,omitempty"`
}

// RecentMessagesPayload answers join_room with the room's newest page.
type RecentMessagesPayload struct {
	RoomID     uuid.UUID     `json:"room_id"`
	Messages   []WireMessage `json:"messages"`
	HasMore    bool          `json:"has_more"`
	NextCursor *uuid.UUID    `json:"next_cursor,omitempty"`
}

// MoreMessagesPayload answers load_more_messages.
type MoreMessagesPayload struct {
	RoomID     uuid.UUID     `json:"room_id"`
	Messages   []WireMessage `json:"messages"`
	HasMore    bool          `json:"has_more"`
	NextCursor *uuid.UUID    `json:"next_cursor,omitempty"`
}

// RoomPresencesPayload answers get_room_presences.
type RoomPresencesPayload struct {
	RoomID    uuid.UUID      `json:"room_id"`
	Presences []WirePresence `json:"presences"`
}

// MyRoomsPayload answers get_my_rooms.
type MyRoomsPayload struct {
	Rooms []uuid.UUID `json:"rooms"`
}

// UserTypingPayload is sent standalone, not wrapped in room_update.
type UserTypingPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	RoomID   uuid.UUID `json:"room_id"`
	IsTyping bool      `json:"is_typing"`
}
