// Package presence is the Presence Engine: maintains the
// presence record for every known user, exposes room-scoped snapshots for
// the Fan-out Router to emit, and reaps users who stop heartbeating.
package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/domain/model"
)

// MembershipLookup is the DB source the idle->active rehydration path in
// BumpActivity consults before calling MarkOnline: active-rooms is always
// recomputed from the DB rather than mutated in place, so a lost
// read-modify-write converges on the next transition.
type MembershipLookup interface {
	ActiveRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// RoomMembersCache mirrors active membership into the fast store so the
// Router can resolve fan-out targets without a DB round trip.
type RoomMembersCache interface {
	Add(ctx context.Context, roomID, userID uuid.UUID) error
	Remove(ctx context.Context, roomID, userID uuid.UUID) error
	Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)
}

// OnlineSet is the online-users set. Remove reports
// whether this call actually removed the member — the commit point for a
// disconnect emit.
type OnlineSet interface {
	Add(ctx context.Context, userID uuid.UUID) error
	Remove(ctx context.Context, userID uuid.UUID) (bool, error)
	Members(ctx context.Context) ([]uuid.UUID, error)
}

// Records is the presence hash.
type Records interface {
	Set(ctx context.Context, p model.Presence) error
	Get(ctx context.Context, userID uuid.UUID) (model.Presence, error)
}

// Heartbeats is the TTL-keyed heartbeat timestamp.
type Heartbeats interface {
	Touch(ctx context.Context, userID uuid.UUID, at time.Time) error
	Get(ctx context.Context, userID uuid.UUID) (t time.Time, found bool, err error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

// Publisher re-publishes room-scoped events to the Bus Adapter.
type Publisher interface {
	Publish(ctx context.Context, ev event.Eventer) error
}

// Defaults for the reaper's cadence and heartbeat staleness.
const (
	DefaultReapInterval   = 30 * time.Second
	DefaultStaleThreshold = 180 * time.Second
)

// NameResolver annotates a snapshot with display names. Optional: without
// one, snapshots carry ids only.
type NameResolver interface {
	Annotate(ctx context.Context, ps []model.Presence) []model.Presence
}

// Engine owns the online/offline lifecycle and room-scoped snapshots.
type Engine struct {
	online     OnlineSet
	records    Records
	heartbeats Heartbeats
	members    RoomMembersCache
	db         MembershipLookup
	bus        Publisher
	names      NameResolver
	logger     *slog.Logger

	reapInterval   time.Duration
	staleThreshold time.Duration
}

type Option func(*Engine)

func WithReapInterval(d time.Duration) Option   { return func(e *Engine) { e.reapInterval = d } }
func WithStaleThreshold(d time.Duration) Option { return func(e *Engine) { e.staleThreshold = d } }
func WithNameResolver(n NameResolver) Option    { return func(e *Engine) { e.names = n } }

func NewEngine(online OnlineSet, records Records, heartbeats Heartbeats, members RoomMembersCache, db MembershipLookup, bus Publisher, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		online:         online,
		records:        records,
		heartbeats:     heartbeats,
		members:        members,
		db:             db,
		bus:            bus,
		logger:         logger,
		reapInterval:   DefaultReapInterval,
		staleThreshold: DefaultStaleThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MarkOnline writes {online, now, activeRooms}, adds to the online-users
// set, and mirrors membership into the per-room members cache. Idempotent:
// re-marking online while already online just refreshes last_seen/rooms.
func (e *Engine) MarkOnline(ctx context.Context, userID uuid.UUID, activeRooms []uuid.UUID) error {
	p := model.Presence{
		UserID:      userID,
		Status:      model.PresenceOnline,
		LastSeen:    time.Now(),
		ActiveRooms: activeRooms,
	}
	if err := e.records.Set(ctx, p); err != nil {
		return err
	}
	if err := e.online.Add(ctx, userID); err != nil {
		return err
	}
	for _, roomID := range activeRooms {
		if err := e.members.Add(ctx, roomID, userID); err != nil {
			e.logger.Warn("room members add failed", "room_id", roomID, "user_id", userID, "err", err)
		}
	}
	return nil
}

// MarkOffline does a read-modify-write to {offline, now, keep rooms} and
// removes the user from the online set. It reports whether THIS call
// performed the removal — callers use that to gate a user_disconnected
// emit, so racing nodes produce at most one broadcast per transition.
func (e *Engine) MarkOffline(ctx context.Context, userID uuid.UUID) (removed bool, rooms []uuid.UUID, err error) {
	prev, err := e.records.Get(ctx, userID)
	if err != nil {
		prev = model.Presence{UserID: userID}
	}
	removed, err = e.online.Remove(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	next := model.Presence{
		UserID:      userID,
		Status:      model.PresenceOffline,
		LastSeen:    time.Now(),
		ActiveRooms: prev.ActiveRooms,
	}
	if err := e.records.Set(ctx, next); err != nil {
		return removed, prev.ActiveRooms, err
	}
	return removed, prev.ActiveRooms, nil
}

// Touch is the O(1) hot path: refresh the heartbeat TTL key.
func (e *Engine) Touch(ctx context.Context, userID uuid.UUID) error {
	return e.heartbeats.Touch(ctx, userID, time.Now())
}

// BumpActivity touches the heartbeat, and if the user isn't currently
// marked online, rehydrates it from the DB's active-room list and emits
// user_connected to each such room: the idle->active rehydration path.
func (e *Engine) BumpActivity(ctx context.Context, userID uuid.UUID) error {
	if err := e.Touch(ctx, userID); err != nil {
		return err
	}
	current, err := e.records.Get(ctx, userID)
	if err == nil && current.IsOnline() {
		return nil
	}

	rooms, err := e.db.ActiveRoomIDs(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.MarkOnline(ctx, userID, rooms); err != nil {
		return err
	}
	for _, roomID := range rooms {
		snap, err := e.Snapshot(ctx, roomID)
		if err != nil {
			e.logger.Warn("snapshot for rehydration failed", "room_id", roomID, "err", err)
			continue
		}
		ev := event.NewUserConnectedEvent(roomID, userID, snap)
		if err := e.bus.Publish(ctx, ev); err != nil {
			e.logger.Warn("publish user_connected failed", "room_id", roomID, "err", err)
		}
	}
	return nil
}

// Snapshot iterates the room-members set and reads each presence record.
// A member without a record is skipped rather than failing the snapshot.
func (e *Engine) Snapshot(ctx context.Context, roomID uuid.UUID) ([]model.Presence, error) {
	userIDs, err := e.members.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := make([]model.Presence, 0, len(userIDs))
	for _, userID := range userIDs {
		p, err := e.records.Get(ctx, userID)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	if e.names != nil {
		out = e.names.Annotate(ctx, out)
	}
	return out, nil
}

// JoinRoom mirrors a membership change into the per-room cache and the
// user's active-rooms set without disturbing online status.
func (e *Engine) JoinRoom(ctx context.Context, userID, roomID uuid.UUID) error {
	if err := e.members.Add(ctx, roomID, userID); err != nil {
		return err
	}
	p, err := e.records.Get(ctx, userID)
	if err != nil {
		p = model.Presence{UserID: userID, Status: model.PresenceOnline, LastSeen: time.Now()}
	}
	if !p.InRoom(roomID) {
		p.ActiveRooms = append(p.ActiveRooms, roomID)
	}
	p.LastSeen = time.Now()
	return e.records.Set(ctx, p)
}

func (e *Engine) LeaveRoom(ctx context.Context, userID, roomID uuid.UUID) error {
	if err := e.members.Remove(ctx, roomID, userID); err != nil {
		return err
	}
	p, err := e.records.Get(ctx, userID)
	if err != nil {
		return nil
	}
	filtered := p.ActiveRooms[:0]
	for _, r := range p.ActiveRooms {
		if r != roomID {
			filtered = append(filtered, r)
		}
	}
	p.ActiveRooms = filtered
	p.LastSeen = time.Now()
	return e.records.Set(ctx, p)
}
