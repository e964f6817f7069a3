// Package wire defines the client-facing JSON wire protocol:
// client->server events, server->client events, and the validation the
// Fan-out Router applies at the boundary before dispatching to domain
// handlers.
package wire

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ClientEventName enumerates the client->server socket events.
type ClientEventName string

const (
	EventJoinRoom     ClientEventName = "join_room"
	EventLeaveRoom    ClientEventName = "leave_room"
	EventSendMessage  ClientEventName = "send_message"
	EventLoadMore     ClientEventName = "load_more_messages"
	EventTypingStart  ClientEventName = "typing_start"
	EventTypingStop   ClientEventName = "typing_stop"
	EventHeartbeat    ClientEventName = "heartbeat"
	EventGetPresences ClientEventName = "get_room_presences"
	EventGetMyRooms   ClientEventName = "get_my_rooms"
)

// ServerEventName enumerates the server->client socket events.
type ServerEventName string

const (
	ServerRoomJoined     ServerEventName = "room_joined"
	ServerRoomLeft       ServerEventName = "room_left"
	ServerRoomUpdate     ServerEventName = "room_update"
	ServerRecentMessages ServerEventName = "recent_messages"
	ServerMoreMessages   ServerEventName = "more_messages_loaded"
	ServerRoomPresences  ServerEventName = "room_presences"
	ServerMyRooms        ServerEventName = "my_rooms"
	ServerUserTyping     ServerEventName = "user_typing"
	ServerHeartbeatAck   ServerEventName = "heartbeat_ack"
	ServerError          ServerEventName = "error"
)

// RoomUpdateType is the `type` discriminator inside a room_update payload.
type RoomUpdateType string

const (
	UpdateNewMessage       RoomUpdateType = "new_message"
	UpdateUserJoined       RoomUpdateType = "user_joined"
	UpdateUserLeft         RoomUpdateType = "user_left"
	UpdateUserConnected    RoomUpdateType = "user_connected"
	UpdateUserDisconnected RoomUpdateType = "user_disconnected"
)

// Envelope is the outer shape of every frame a client sends over the
// socket: {"event": "...", "data": {...}}.
type Envelope struct {
	Event ClientEventName `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ServerEnvelope is the outbound counterpart.
type ServerEnvelope struct {
	Event ServerEventName `json:"event"`
	Data  any             `json:"data"`
}

// --- client -> server payloads ---

type JoinRoomPayload struct {
	RoomID        uuid.UUID `json:"room_id"`
	AlreadyJoined bool      `json:"already_joined"`
	Passcode      string    `json:"passcode,omitempty"`
}

type LeaveRoomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type SendMessagePayload struct {
	RoomID  uuid.UUID `json:"room_id"`
	Content string    `json:"content"`
}

type LoadMorePayload struct {
	RoomID uuid.UUID  `json:"room_id"`
	Limit  int        `json:"limit"`
	Before *uuid.UUID `json:"before,omitempty"`
}

type TypingPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type GetRoomPresencesPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

// Validate rejects empty or whitespace-only message content before
// anything touches the pipeline: nothing blank is ever persisted.
func (p SendMessagePayload) Validate() error {
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: content must not be empty", ErrValidation)
	}
	return nil
}

func (p LoadMorePayload) normalized() LoadMorePayload {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	return p
}

// NormalizeLoadMore replaces a limit outside 1..200 with the default of 50.
func NormalizeLoadMore(p LoadMorePayload) LoadMorePayload { return p.normalized() }
