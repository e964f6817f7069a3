package router

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
)

// Session is the per-connection actor for a single socket. One user may
// hold several sessions open (multiple tabs/devices); each is independent
// and carries its own joined-room set, so none of it needs locking beyond
// the session itself.
type Session interface {
	GetID() uuid.UUID
	GetUserID() uuid.UUID
	GetUsername() string
	// Send is a thread-safe, backpressure-aware push into the session's
	// outbound mailbox. Returns false if the session is already closed or
	// the event is shed once the timeout elapses; a higher-priority event
	// that evicts a queued lower-priority one after the timeout returns
	// true.
	Send(ev event.Eventer, timeout time.Duration) bool
	Recv() <-chan event.Eventer
	// Done is closed when the session ends; consumers select on it
	// alongside Recv since the mailbox channel itself is never closed.
	Done() <-chan struct{}
	Close()

	// JoinedRooms returns the room ids this socket currently has joined
	// (distinct from presence.ActiveRooms, which survives reconnects).
	JoinedRooms() []uuid.UUID
	HasJoined(roomID uuid.UUID) bool
	MarkJoined(roomID uuid.UUID)
	MarkLeft(roomID uuid.UUID)
}

var _ Session = (*session)(nil)

type session struct {
	id       uuid.UUID
	userID   uuid.UUID
	username string

	ctx       context.Context
	cancelFn  context.CancelFunc
	sendCh    chan event.Eventer
	closeOnce sync.Once

	mu    sync.RWMutex
	rooms map[uuid.UUID]struct{}

	droppedCount int64
}

// NewSession allocates a fresh session actor bound to ctx. The caller
// (the websocket/long-poll transport) closes it when the connection ends.
func NewSession(ctx context.Context, userID uuid.UUID, username string, bufferSize int) Session {
	childCtx, cancel := context.WithCancel(ctx)
	return &session{
		id:       uuid.New(),
		userID:   userID,
		username: username,
		ctx:      childCtx,
		cancelFn: cancel,
		sendCh:   make(chan event.Eventer, bufferSize),
		rooms:    make(map[uuid.UUID]struct{}),
	}
}

func (s *session) GetID() uuid.UUID           { return s.id }
func (s *session) GetUserID() uuid.UUID       { return s.userID }
func (s *session) GetUsername() string        { return s.username }
func (s *session) Recv() <-chan event.Eventer { return s.sendCh }
func (s *session) Done() <-chan struct{}      { return s.ctx.Done() }

// Send attempts to enqueue the event, waiting up to timeout for room.
// Losing a transient fan-out is preferable to blocking the room cell's
// delivery loop on one slow socket, so a saturated mailbox sheds by
// priority instead of stalling.
func (s *session) Send(ev event.Eventer, timeout time.Duration) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case s.sendCh <- ev:
		return true
	case <-t.C:
		// [BACKPRESSURE_THRESHOLD] The buffer stayed saturated for the
		// whole delivery window: a persistently slow consumer.
		return s.shedForPriority(ev)
	}
}

// shedForPriority drops a low-priority event outright; a higher-priority
// one may evict a single queued lower-priority event to make room.
func (s *session) shedForPriority(ev event.Eventer) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	if ev.GetPriority() <= event.PriorityLow {
		atomic.AddInt64(&s.droppedCount, 1)
		return false
	}

	select {
	case old := <-s.sendCh:
		if old.GetPriority() < ev.GetPriority() {
			select {
			case s.sendCh <- ev:
				atomic.AddInt64(&s.droppedCount, 1)
				return true
			default:
			}
		} else {
			// The queued event mattered as much as ours; put it back,
			// best effort.
			select {
			case s.sendCh <- old:
			default:
			}
		}
	default:
	}

	atomic.AddInt64(&s.droppedCount, 1)
	return false
}

// Close only cancels; the mailbox channel stays open so concurrent
// senders (the shed path re-inserts queued events) can never hit a closed
// channel. Consumers observe the end via Done.
func (s *session) Close() {
	s.closeOnce.Do(s.cancelFn)
}

func (s *session) JoinedRooms() []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]uuid.UUID, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

func (s *session) HasJoined(roomID uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok
}

func (s *session) MarkJoined(roomID uuid.UUID) {
	s.mu.Lock()
	s.rooms[roomID] = struct{}{}
	s.mu.Unlock()
}

func (s *session) MarkLeft(roomID uuid.UUID) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}
