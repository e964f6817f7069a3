package event

import (
	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/model"
)

// MessagePayload is carried by a KindNewMessage RoomEvent.
type MessagePayload struct {
	Message *model.Message `json:"message"`
}

// NewMessageEvent wraps a persisted message for room-wide delivery. Priority
// is High because chat messages are the primary product signal; a full
// mailbox sheds typing indicators before it sheds messages.
func NewMessageEvent(msg *model.Message) *RoomEvent {
	ev := NewRoomEvent(msg.RoomID, KindNewMessage, PriorityHigh, &MessagePayload{Message: msg})
	ev.OccurredAt = msg.CreatedAt.UnixMilli()
	return ev
}

// PresencePayload carries a room-scoped presence snapshot, used by
// user_joined/user_left/user_connected/user_disconnected.
type PresencePayload struct {
	UserID    uuid.UUID        `json:"user_id"`
	Presences []model.Presence `json:"presences"`
}

func NewUserJoinedEvent(roomID, userID uuid.UUID, presences []model.Presence) *RoomEvent {
	return NewRoomEvent(roomID, KindUserJoined, PriorityNormal, &PresencePayload{UserID: userID, Presences: presences})
}

func NewUserLeftEvent(roomID, userID uuid.UUID, presences []model.Presence) *RoomEvent {
	return NewRoomEvent(roomID, KindUserLeft, PriorityNormal, &PresencePayload{UserID: userID, Presences: presences})
}

func NewUserConnectedEvent(roomID, userID uuid.UUID, presences []model.Presence) *RoomEvent {
	return NewRoomEvent(roomID, KindUserConnected, PriorityNormal, &PresencePayload{UserID: userID, Presences: presences})
}

func NewUserDisconnectedEvent(roomID, userID uuid.UUID, presences []model.Presence) *RoomEvent {
	return NewRoomEvent(roomID, KindUserDisconnected, PriorityNormal, &PresencePayload{UserID: userID, Presences: presences})
}

// TypingPayload carries a transient typing indicator. Never persisted.
type TypingPayload struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
	IsTyping bool      `json:"is_typing"`
}

// NewTypingEvent is PriorityLow: the first thing dropped under
// backpressure. originSessionID is excluded from local delivery; pass
// uuid.Nil for no exclusion.
func NewTypingEvent(roomID, userID uuid.UUID, username string, isTyping bool, originSessionID uuid.UUID) *RoomEvent {
	ev := NewRoomEvent(roomID, KindUserTyping, PriorityLow, &TypingPayload{
		UserID:   userID,
		Username: username,
		IsTyping: isTyping,
	})
	ev.OriginSessionID = originSessionID
	return ev
}
