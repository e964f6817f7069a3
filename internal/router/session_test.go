package router

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
)

func TestSessionJoinTracking(t *testing.T) {
	s := NewSession(context.Background(), uuid.New(), "alice", 4)
	roomID := uuid.New()

	if s.HasJoined(roomID) {
		t.Fatal("expected room not joined initially")
	}
	s.MarkJoined(roomID)
	if !s.HasJoined(roomID) {
		t.Fatal("expected room joined after MarkJoined")
	}
	if len(s.JoinedRooms()) != 1 {
		t.Fatalf("expected 1 joined room, got %d", len(s.JoinedRooms()))
	}
	s.MarkLeft(roomID)
	if s.HasJoined(roomID) {
		t.Fatal("expected room not joined after MarkLeft")
	}
}

func TestSessionSendDropsWhenFullAndTimedOut(t *testing.T) {
	s := NewSession(context.Background(), uuid.New(), "alice", 1)
	roomID := uuid.New()

	ev1 := event.NewRoomEvent(roomID, event.KindUserTyping, event.PriorityLow, nil)
	ev2 := event.NewRoomEvent(roomID, event.KindUserTyping, event.PriorityLow, nil)

	if ok := s.Send(ev1, time.Second); !ok {
		t.Fatal("expected first send into empty buffer to succeed")
	}
	// Buffer (size 1) is now full; a second send should time out and drop.
	if ok := s.Send(ev2, 20*time.Millisecond); ok {
		t.Fatal("expected second send to a full mailbox to be dropped")
	}
}

func TestSessionCloseStopsFurtherSends(t *testing.T) {
	s := NewSession(context.Background(), uuid.New(), "alice", 4)
	s.Close()

	ev := event.NewRoomEvent(uuid.New(), event.KindUserTyping, event.PriorityLow, nil)
	if ok := s.Send(ev, 50*time.Millisecond); ok {
		t.Fatal("expected send on a closed session to return false")
	}
}

func TestSessionSendHighPriorityEvictsQueuedLow(t *testing.T) {
	s := NewSession(context.Background(), uuid.New(), "alice", 1)
	roomID := uuid.New()

	low := event.NewRoomEvent(roomID, event.KindUserTyping, event.PriorityLow, nil)
	high := event.NewRoomEvent(roomID, event.KindNewMessage, event.PriorityHigh, nil)

	if ok := s.Send(low, time.Second); !ok {
		t.Fatal("expected low-priority send into empty buffer to succeed")
	}
	// Buffer (size 1) is full of low-priority traffic; a high-priority
	// event should evict it rather than be dropped.
	if ok := s.Send(high, 20*time.Millisecond); !ok {
		t.Fatal("expected high-priority send to evict the queued low-priority event")
	}

	select {
	case got := <-s.Recv():
		if got.GetID() != high.GetID() {
			t.Fatalf("expected the high-priority event to survive, got %s", got.GetID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out reading the surviving event")
	}
}

func TestSessionSendEqualPriorityIsDroppedNotEvicted(t *testing.T) {
	s := NewSession(context.Background(), uuid.New(), "alice", 1)
	roomID := uuid.New()

	first := event.NewRoomEvent(roomID, event.KindNewMessage, event.PriorityHigh, nil)
	second := event.NewRoomEvent(roomID, event.KindNewMessage, event.PriorityHigh, nil)

	if ok := s.Send(first, time.Second); !ok {
		t.Fatal("expected first send to succeed")
	}
	if ok := s.Send(second, 20*time.Millisecond); ok {
		t.Fatal("expected equal-priority send to a full mailbox to be dropped")
	}

	select {
	case got := <-s.Recv():
		if got.GetID() != first.GetID() {
			t.Fatalf("expected the queued event to survive, got %s", got.GetID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out reading the surviving event")
	}
}
