package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/domain/model"
)

// Registrar is the local (single-node) fan-out target: one Cell per
// room id that currently has at least one attached session, reclaimed by a
// background janitor when it goes idle. Adapted from a per-user actor
// registry to a per-room one: the key changes, the actor/mailbox/janitor
// shape does not.
type Registrar interface {
	Broadcast(ev event.Eventer) bool
	Register(roomID uuid.UUID, s Session)
	Unregister(roomID uuid.UUID, sessionID uuid.UUID)
	HasLocalSubscriber(roomID uuid.UUID) bool
	LocalSessions() []Session
	Stats() model.RegistryStats
	Shutdown()
}

type Registry struct {
	cells sync.Map // uuid.UUID -> *roomCell

	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int

	logger  *slog.Logger
	stopCh  chan struct{}
	started time.Time
}

type RegistryOption func(*Registry)

func WithEvictionInterval(d time.Duration) RegistryOption { return func(r *Registry) { r.evictionInterval = d } }
func WithIdleTimeout(d time.Duration) RegistryOption      { return func(r *Registry) { r.idleTimeout = d } }
func WithMailboxSize(n int) RegistryOption                { return func(r *Registry) { r.mailboxSize = n } }

// NewRegistry starts the janitor goroutine immediately; it runs until
// Shutdown is called.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		evictionInterval: time.Minute,
		idleTimeout:      5 * time.Minute,
		mailboxSize:      1024,
		logger:           logger,
		stopCh:           make(chan struct{}),
		started:          time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.runJanitor()
	return r
}

func (r *Registry) HasLocalSubscriber(roomID uuid.UUID) bool {
	_, ok := r.cells.Load(roomID)
	return ok
}

// Broadcast pushes ev into the target room's mailbox. A missing room cell
// (no local subscribers) is not an error: other nodes may still hold
// subscribers for it.
func (r *Registry) Broadcast(ev event.Eventer) bool {
	val, ok := r.cells.Load(ev.GetRoomID())
	if !ok {
		return false
	}
	return val.(*roomCell).push(ev)
}

// Register attaches a session to a room's cell, creating the cell on
// first join (idempotent: re-registering the same session id is safe).
func (r *Registry) Register(roomID uuid.UUID, s Session) {
	val, _ := r.cells.LoadOrStore(roomID, newRoomCell(roomID, r.mailboxSize))
	val.(*roomCell).attach(s)
}

// Unregister detaches a session. Reclaiming an emptied cell is left to the
// janitor so a room briefly losing its last local session (e.g. during a
// reconnect race) doesn't thrash cell creation.
func (r *Registry) Unregister(roomID uuid.UUID, sessionID uuid.UUID) {
	if val, ok := r.cells.Load(roomID); ok {
		val.(*roomCell).detach(sessionID)
	}
}

func (r *Registry) runJanitor() {
	ticker := time.NewTicker(r.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.evict()
		}
	}
}

func (r *Registry) evict() {
	reaped := 0
	r.cells.Range(func(key, value any) bool {
		cell := value.(*roomCell)
		if cell.isIdle(r.idleTimeout) {
			cell.stop()
			r.cells.Delete(key)
			reaped++
		}
		return true
	})
	if reaped > 0 {
		r.logger.Debug("room registry eviction", "reclaimed", reaped)
	}
}

// LocalSessions returns every session attached to any room cell on this
// node, deduplicated (a session joined to three rooms appears once).
func (r *Registry) LocalSessions() []Session {
	seen := make(map[uuid.UUID]Session)
	r.cells.Range(func(_, value any) bool {
		cell := value.(*roomCell)
		cell.mu.RLock()
		for id, s := range cell.sessions {
			seen[id] = s
		}
		cell.mu.RUnlock()
		return true
	})
	out := make([]Session, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Stats() model.RegistryStats {
	stats := model.RegistryStats{Uptime: time.Since(r.started)}
	r.cells.Range(func(key, value any) bool {
		cell := value.(*roomCell)
		stats.TotalRooms++
		n := cell.sessionCount()
		stats.TotalSessions += n
		stats.Rooms = append(stats.Rooms, model.RoomStats{
			RoomID:       key.(uuid.UUID).String(),
			SessionCount: n,
		})
		return true
	})
	return stats
}

func (r *Registry) Shutdown() {
	close(r.stopCh)
	r.cells.Range(func(_, value any) bool {
		value.(*roomCell).stop()
		return true
	})
}

// roomCell is the actor for a single room: a buffered mailbox drained by one
// goroutine that delivers each event to every locally attached session.
type roomCell struct {
	roomID  uuid.UUID
	mailbox chan event.Eventer

	mu       sync.RWMutex
	sessions map[uuid.UUID]Session

	doneCh           chan struct{}
	lastActivityUnix int64
}

func newRoomCell(roomID uuid.UUID, bufferSize int) *roomCell {
	c := &roomCell{
		roomID:   roomID,
		mailbox:  make(chan event.Eventer, bufferSize),
		sessions: make(map[uuid.UUID]Session),
		doneCh:   make(chan struct{}),
	}
	c.touch()
	go c.loop()
	return c
}

func (c *roomCell) touch() {
	c.mu.Lock()
	c.lastActivityUnix = time.Now().Unix()
	c.mu.Unlock()
}

func (c *roomCell) isIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.sessions) > 0 {
		return false
	}
	return time.Since(time.Unix(c.lastActivityUnix, 0)) > timeout
}

func (c *roomCell) sessionCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *roomCell) push(ev event.Eventer) bool {
	c.touch()
	select {
	case c.mailbox <- ev:
		return true
	default:
	}

	// [BACKPRESSURE_THRESHOLD] Full mailbox: shed by priority rather than
	// block the publisher. A low-priority event (typing) is dropped
	// outright; a higher-priority one may evict a single queued
	// lower-priority event. Losing a transient broadcast beats stalling
	// every room in the process.
	if ev.GetPriority() <= event.PriorityLow {
		return false
	}
	select {
	case old := <-c.mailbox:
		if old.GetPriority() < ev.GetPriority() {
			select {
			case c.mailbox <- ev:
				return true
			default:
			}
		} else {
			select {
			case c.mailbox <- old:
			default:
			}
		}
	default:
	}
	return false
}

func (c *roomCell) attach(s Session) {
	c.mu.Lock()
	c.sessions[s.GetID()] = s
	c.mu.Unlock()
	c.touch()
}

func (c *roomCell) detach(sessionID uuid.UUID) {
	c.mu.Lock()
	delete(c.sessions, sessionID)
	c.mu.Unlock()
	c.touch()
}

func (c *roomCell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
		drain:
			for i := 0; i < 64; i++ {
				select {
				case next := <-c.mailbox:
					c.deliver(next)
				default:
					break drain
				}
			}
		}
	}
}

func (c *roomCell) deliver(ev event.Eventer) {
	var origin uuid.UUID
	if o, ok := ev.(event.Originator); ok {
		origin = o.GetOriginSessionID()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for id, s := range c.sessions {
		if origin != uuid.Nil && id == origin {
			continue
		}
		s.Send(ev, 250*time.Millisecond)
	}
}

func (c *roomCell) stop() {
	close(c.doneCh)
}
