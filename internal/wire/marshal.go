package wire

import (
	"encoding/json"
	"fmt"

	"github.com/webitel/chat-core/internal/domain/event"
)

// Marshal converts a domain event — either a DirectEvent reply to one
// session or a RoomEvent fanned out by the registry — into the envelope
// bytes a transport (ws/lp) writes to the client.
func Marshal(ev event.Eventer) ([]byte, error) {
	envelope, ok := ToEnvelope(ev)
	if !ok {
		return nil, fmt.Errorf("wire: no envelope mapping for event kind %v", ev.GetKind())
	}
	return json.Marshal(envelope)
}

// ToEnvelope maps a domain event onto the wire protocol's server->client
// shape. DirectEvents pass their payload through unchanged;
// RoomEvents are translated per their Kind into a room_update or
// user_typing frame.
func ToEnvelope(ev event.Eventer) (ServerEnvelope, bool) {
	if de, ok := ev.(*event.DirectEvent); ok {
		return ServerEnvelope{Event: ServerEventName(de.Name), Data: de.Payload}, true
	}

	switch ev.GetKind() {
	case event.KindNewMessage:
		p, ok := ev.GetPayload().(*event.MessagePayload)
		if !ok {
			return ServerEnvelope{}, false
		}
		msg := FromMessage(p.Message)
		return ServerEnvelope{Event: ServerRoomUpdate, Data: RoomUpdatePayload{
			Type:    UpdateNewMessage,
			RoomID:  ev.GetRoomID(),
			Message: &msg,
		}}, true

	case event.KindUserJoined, event.KindUserLeft, event.KindUserConnected, event.KindUserDisconnected:
		p, ok := ev.GetPayload().(*event.PresencePayload)
		if !ok {
			return ServerEnvelope{}, false
		}
		return ServerEnvelope{Event: ServerRoomUpdate, Data: RoomUpdatePayload{
			Type:      roomUpdateTypeFor(ev.GetKind()),
			RoomID:    ev.GetRoomID(),
			Presences: FromPresences(p.Presences),
		}}, true

	case event.KindUserTyping:
		p, ok := ev.GetPayload().(*event.TypingPayload)
		if !ok {
			return ServerEnvelope{}, false
		}
		return ServerEnvelope{Event: ServerUserTyping, Data: UserTypingPayload{
			UserID:   p.UserID,
			Username: p.Username,
			RoomID:   ev.GetRoomID(),
			IsTyping: p.IsTyping,
		}}, true

	default:
		return ServerEnvelope{}, false
	}
}

func roomUpdateTypeFor(k event.Kind) RoomUpdateType {
	switch k {
	case event.KindUserJoined:
		return UpdateUserJoined
	case event.KindUserLeft:
		return UpdateUserLeft
	case event.KindUserConnected:
		return UpdateUserConnected
	case event.KindUserDisconnected:
		return UpdateUserDisconnected
	default:
		return ""
	}
}
