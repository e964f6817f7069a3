package event

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WireEnvelope is the on-the-wire shape published to and consumed from the
// Bus Adapter. Eventer.Payload is `any`, which json round-trips as a
// generic map; WireEnvelope keeps the payload as raw bytes so Decode can
// dispatch on Kind and unmarshal into the concrete payload type.
type WireEnvelope struct {
	ID              string          `json:"id"`
	RoomID          uuid.UUID       `json:"room_id"`
	Kind            Kind            `json:"kind"`
	Priority        Priority        `json:"priority"`
	OccurredAt      int64           `json:"occurred_at"`
	Payload         json.RawMessage `json:"payload"`
	OriginSessionID uuid.UUID       `json:"origin_session_id,omitempty"`
}

// Encode serializes an Eventer for transport.
func Encode(ev Eventer) (WireEnvelope, error) {
	raw, err := json.Marshal(ev.GetPayload())
	if err != nil {
		return WireEnvelope{}, fmt.Errorf("event: encode payload: %w", err)
	}
	w := WireEnvelope{
		ID:         ev.GetID(),
		RoomID:     ev.GetRoomID(),
		Kind:       ev.GetKind(),
		Priority:   ev.GetPriority(),
		OccurredAt: ev.GetOccurredAt(),
		Payload:    raw,
	}
	if o, ok := ev.(Originator); ok {
		w.OriginSessionID = o.GetOriginSessionID()
	}
	return w, nil
}

// Decode reconstructs a concrete RoomEvent from its wire form.
func (w WireEnvelope) Decode() (*RoomEvent, error) {
	payload, err := w.decodePayload()
	if err != nil {
		return nil, err
	}
	return &RoomEvent{
		ID:              w.ID,
		RoomID:          w.RoomID,
		Kind:            w.Kind,
		Priority:        w.Priority,
		OccurredAt:      w.OccurredAt,
		Payload:         payload,
		OriginSessionID: w.OriginSessionID,
	}, nil
}

func (w WireEnvelope) decodePayload() (any, error) {
	switch w.Kind {
	case KindNewMessage:
		var p MessagePayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, fmt.Errorf("event: decode message payload: %w", err)
		}
		return &p, nil
	case KindUserJoined, KindUserLeft, KindUserConnected, KindUserDisconnected:
		var p PresencePayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, fmt.Errorf("event: decode presence payload: %w", err)
		}
		return &p, nil
	case KindUserTyping:
		var p TypingPayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return nil, fmt.Errorf("event: decode typing payload: %w", err)
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("event: unknown kind %d", w.Kind)
	}
}
