package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/model"
)

func TestMessageEventRoundTrip(t *testing.T) {
	msg := &model.Message{
		ID:        uuid.New(),
		RoomID:    uuid.New(),
		AuthorID:  uuid.New(),
		Author:    "alice",
		Content:   "hello",
		Kind:      model.MessageKindText,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	src := NewMessageEvent(msg)

	envelope, err := Encode(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back WireEnvelope
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	dst, err := back.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if dst.GetID() != src.GetID() || dst.GetRoomID() != src.GetRoomID() || dst.GetKind() != KindNewMessage {
		t.Fatalf("envelope fields changed: %+v vs %+v", dst, src)
	}
	got, ok := dst.GetPayload().(*MessagePayload)
	if !ok {
		t.Fatalf("expected *MessagePayload, got %T", dst.GetPayload())
	}
	if got.Message.ID != msg.ID || got.Message.Content != msg.Content ||
		got.Message.AuthorID != msg.AuthorID || got.Message.Kind != msg.Kind ||
		!got.Message.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("message fields changed: %+v vs %+v", got.Message, msg)
	}
}

func TestTypingEventRoundTripKeepsOrigin(t *testing.T) {
	origin := uuid.New()
	src := NewTypingEvent(uuid.New(), uuid.New(), "bob", true, origin)

	envelope, err := Encode(src)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dst, err := envelope.Decode()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dst.GetOriginSessionID() != origin {
		t.Fatal("expected origin session id to survive the round trip")
	}
	p, ok := dst.GetPayload().(*TypingPayload)
	if !ok || !p.IsTyping || p.Username != "bob" {
		t.Fatalf("typing payload changed: %+v", dst.GetPayload())
	}
}

func TestDecodeUnknownKindFails(t *testing.T) {
	w := WireEnvelope{Kind: Kind(99), Payload: json.RawMessage(`{}`)}
	if _, err := w.Decode(); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
