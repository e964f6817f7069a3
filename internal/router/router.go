package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/auth"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/domain/model"
	"github.com/webitel/chat-core/internal/pipeline"
	"github.com/webitel/chat-core/internal/presence"
	"github.com/webitel/chat-core/internal/wire"
)

const (
	defaultHandlerTimeout = 5 * time.Second
	defaultRecentPageSize = 50
	directReplyTimeout    = time.Second
)

// RoomLookup resolves room metadata needed for the join credential check.
type RoomLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Room, error)
}

// Memberships is the durable join/leave record, independent of
// the Presence Engine's fast-store mirror of the same fact.
type Memberships interface {
	IsActive(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	Upsert(ctx context.Context, userID, roomID uuid.UUID) error
	Deactivate(ctx context.Context, userID, roomID uuid.UUID) error
	ActiveRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

// Publisher re-publishes a router-originated event to the Bus Adapter so
// every node's registry (including this one, via its own subscription)
// observes it.
type Publisher interface {
	Publish(ctx context.Context, ev event.Eventer) error
}

// BusSubscriber opens this node's subscription to a room's topic the
// first time a local session attaches to it: a node subscribes implicitly
// by membership in the room's socket set, never by explicit bookkeeping.
type BusSubscriber interface {
	Subscribe(ctx context.Context, roomID uuid.UUID) error
}

// SessionTracker mirrors the user->socket binding into the fast store as
// a TTL key, refreshed on activity.
type SessionTracker interface {
	Set(ctx context.Context, userID uuid.UUID, socketID string) error
	Refresh(ctx context.Context, userID uuid.UUID) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// Router is the Fan-out Router: owns per-socket session state,
// validates and dispatches client wire events, and emits server events to
// a session or to a room via the Bus Adapter.
type Router struct {
	registry    Registrar
	presence    *presence.Engine
	pipeline    *pipeline.Pipeline
	rooms       RoomLookup
	memberships Memberships
	bus         Publisher
	busSub      BusSubscriber
	sessions    SessionTracker
	logger      *slog.Logger

	handlerTimeout time.Duration
}

type Option func(*Router)

func WithSessionTracker(t SessionTracker) Option { return func(r *Router) { r.sessions = t } }
func WithHandlerTimeout(d time.Duration) Option  { return func(r *Router) { r.handlerTimeout = d } }

func NewRouter(registry Registrar, presenceEngine *presence.Engine, pl *pipeline.Pipeline, rooms RoomLookup, memberships Memberships, bus Publisher, busSub BusSubscriber, logger *slog.Logger, opts ...Option) *Router {
	r := &Router{
		registry:       registry,
		presence:       presenceEngine,
		pipeline:       pl,
		rooms:          rooms,
		memberships:    memberships,
		bus:            bus,
		busSub:         busSub,
		logger:         logger,
		handlerTimeout: defaultHandlerTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect marks the user online with their DB-active rooms and emits
// user_connected to each one. The socket does not join any room bucket
// here; that only happens on an explicit join_room.
func (r *Router) Connect(ctx context.Context, s Session) {
	ctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()

	rooms, err := r.memberships.ActiveRoomIDs(ctx, s.GetUserID())
	if err != nil {
		r.logger.Error("connect: load active rooms failed", "user_id", s.GetUserID(), "err", err)
		return
	}
	if err := r.presence.MarkOnline(ctx, s.GetUserID(), rooms); err != nil {
		r.logger.Error("connect: mark online failed", "user_id", s.GetUserID(), "err", err)
		return
	}
	if r.sessions != nil {
		if err := r.sessions.Set(ctx, s.GetUserID(), s.GetID().String()); err != nil {
			r.logger.Warn("session key set failed", "user_id", s.GetUserID(), "err", err)
		}
	}
	for _, roomID := range rooms {
		r.emitPresence(ctx, roomID, s.GetUserID(), event.NewUserConnectedEvent)
	}
}

// Disconnect tears down a session's local registrations and, if this call
// wins the race to remove the user from the online set, emits
// user_disconnected to every room the user was active in. Network-failure
// drops without an explicit disconnect are instead caught by the Reaper.
func (r *Router) Disconnect(ctx context.Context, s Session) {
	for _, roomID := range s.JoinedRooms() {
		r.registry.Unregister(roomID, s.GetID())
	}

	ctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()

	removed, rooms, err := r.presence.MarkOffline(ctx, s.GetUserID())
	if err != nil {
		r.logger.Error("disconnect: mark offline failed", "user_id", s.GetUserID(), "err", err)
		return
	}
	if r.sessions != nil {
		if err := r.sessions.Delete(ctx, s.GetUserID()); err != nil {
			r.logger.Warn("session key delete failed", "user_id", s.GetUserID(), "err", err)
		}
	}
	if !removed {
		return
	}
	for _, roomID := range rooms {
		r.emitPresence(ctx, roomID, s.GetUserID(), event.NewUserDisconnectedEvent)
	}
}

// DrainLocal marks every locally attached user offline, emitting
// user_disconnected exactly as an explicit disconnect would. Only invoked
// during shutdown when the proactive-offline policy is enabled; the
// default policy leaves demotion to the cluster-wide reaper.
func (r *Router) DrainLocal(ctx context.Context) {
	for _, s := range r.registry.LocalSessions() {
		r.Disconnect(ctx, s)
	}
}

// Dispatch decodes one client envelope and routes it to the matching
// handler, wrapping the call in the per-event deadline and
// translating any error into a single `error` reply — a handler
// never lets an error cascade into a broadcast.
func (r *Router) Dispatch(ctx context.Context, s Session, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panic recovered", "session_id", s.GetID(), "user_id", s.GetUserID(), "panic", rec)
			r.sendError(s, errors.New("internal error"))
		}
	}()

	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.sendError(s, fmt.Errorf("%w: malformed envelope", wire.ErrValidation))
		return
	}

	hctx, cancel := context.WithTimeout(ctx, r.handlerTimeout)
	defer cancel()

	if err := r.route(hctx, s, env); err != nil {
		r.logger.Error("handler error", "event", env.Event, "session_id", s.GetID(), "user_id", s.GetUserID(), "err", err)
		r.sendError(s, err)
	}
}

func (r *Router) route(ctx context.Context, s Session, env wire.Envelope) error {
	switch env.Event {
	case wire.EventJoinRoom:
		var p wire.JoinRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: bad join_room payload", wire.ErrValidation)
		}
		return r.handleJoinRoom(ctx, s, p)

	case wire.EventLeaveRoom:
		var p wire.LeaveRoomPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: bad leave_room payload", wire.ErrValidation)
		}
		return r.handleLeaveRoom(ctx, s, p)

	case wire.EventSendMessage:
		var p wire.SendMessagePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: bad send_message payload", wire.ErrValidation)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		return r.handleSendMessage(ctx, s, p)

	case wire.EventLoadMore:
		var p wire.LoadMorePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: bad load_more_messages payload", wire.ErrValidation)
		}
		return r.handleLoadMore(ctx, s, wire.NormalizeLoadMore(p))

	case wire.EventTypingStart:
		var p wire.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: bad typing_start payload", wire.ErrValidation)
		}
		return r.handleTyping(ctx, s, p, true)

	case wire.EventTypingStop:
		var p wire.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: bad typing_stop payload", wire.ErrValidation)
		}
		return r.handleTyping(ctx, s, p, false)

	case wire.EventHeartbeat:
		return r.handleHeartbeat(ctx, s)

	case wire.EventGetPresences:
		var p wire.GetRoomPresencesPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return fmt.Errorf("%w: bad get_room_presences payload", wire.ErrValidation)
		}
		return r.handleGetRoomPresences(ctx, s, p)

	case wire.EventGetMyRooms:
		return r.handleGetMyRooms(ctx, s)

	default:
		return fmt.Errorf("%w: unknown event %q", wire.ErrValidation, env.Event)
	}
}

// handleJoinRoom handles join_room.
func (r *Router) handleJoinRoom(ctx context.Context, s Session, p wire.JoinRoomPayload) error {
	room, err := r.rooms.GetByID(ctx, p.RoomID)
	if err != nil {
		return fmt.Errorf("%w: room not found", wire.ErrNotFound)
	}

	if !p.AlreadyJoined {
		if err := r.validateAndJoin(ctx, s.GetUserID(), room, p.Passcode); err != nil {
			return err
		}
	}

	hadLocalSubscriber := r.registry.HasLocalSubscriber(room.ID)
	r.registry.Register(room.ID, s)
	s.MarkJoined(room.ID)
	if !hadLocalSubscriber {
		// Not the handler's ctx: the subscription must outlive this call
		// and ends only when the subscriber is closed at shutdown.
		if err := r.busSub.Subscribe(context.Background(), room.ID); err != nil {
			r.logger.Warn("bus subscribe failed", "room_id", room.ID, "err", err)
		}
	}

	if err := r.presence.JoinRoom(ctx, s.GetUserID(), room.ID); err != nil {
		r.logger.Warn("presence join_room failed", "room_id", room.ID, "user_id", s.GetUserID(), "err", err)
	}

	go func() {
		preloadCtx, cancel := context.WithTimeout(context.Background(), r.handlerTimeout)
		defer cancel()
		if err := r.pipeline.Preload(preloadCtx, room.ID); err != nil {
			r.logger.Warn("cache preload failed", "room_id", room.ID, "err", err)
		}
	}()

	if !p.AlreadyJoined {
		content := fmt.Sprintf("%s joined the room", s.GetUsername())
		if _, err := r.pipeline.Create(ctx, room.ID, uuid.Nil, "", content, model.MessageKindSystem); err != nil {
			r.logger.Warn("system join message failed", "room_id", room.ID, "err", err)
		}
	}

	msgs, err := r.pipeline.Recent(ctx, room.ID, defaultRecentPageSize)
	if err != nil {
		return fmt.Errorf("join: recent page: %w", err)
	}
	snap, err := r.presence.Snapshot(ctx, room.ID)
	if err != nil {
		r.logger.Warn("snapshot failed", "room_id", room.ID, "err", err)
	}

	r.reply(s, wire.ServerRoomJoined, wire.RoomJoinedPayload{RoomID: room.ID, Presences: wire.FromPresences(snap)})
	r.reply(s, wire.ServerRecentMessages, recentMessagesPayload(room.ID, msgs))

	if !p.AlreadyJoined {
		r.emitPresence(ctx, room.ID, s.GetUserID(), event.NewUserJoinedEvent)
	}
	return nil
}

// validateAndJoin performs the Join REST flow's equivalent check in-core:
// private rooms require the correct passcode, then the membership row is
// upserted.
func (r *Router) validateAndJoin(ctx context.Context, userID uuid.UUID, room *model.Room, passcode string) error {
	if room.Private {
		if passcode == "" {
			return wire.ErrPasscodeRequired
		}
		if !auth.VerifyPassword(passcode, room.CredentialHash) {
			return wire.ErrInvalidPasscode
		}
	}
	if err := r.memberships.Upsert(ctx, userID, room.ID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// handleLeaveRoom handles leave_room.
func (r *Router) handleLeaveRoom(ctx context.Context, s Session, p wire.LeaveRoomPayload) error {
	r.registry.Unregister(p.RoomID, s.GetID())
	s.MarkLeft(p.RoomID)

	if err := r.memberships.Deactivate(ctx, s.GetUserID(), p.RoomID); err != nil {
		r.logger.Warn("deactivate membership failed", "room_id", p.RoomID, "err", err)
	}
	if err := r.presence.LeaveRoom(ctx, s.GetUserID(), p.RoomID); err != nil {
		r.logger.Warn("presence leave_room failed", "room_id", p.RoomID, "err", err)
	}

	content := fmt.Sprintf("%s left the room", s.GetUsername())
	if _, err := r.pipeline.Create(ctx, p.RoomID, uuid.Nil, "", content, model.MessageKindSystem); err != nil {
		r.logger.Warn("system leave message failed", "room_id", p.RoomID, "err", err)
	}

	r.reply(s, wire.ServerRoomLeft, wire.RoomLeftPayload{RoomID: p.RoomID})
	r.emitPresence(ctx, p.RoomID, s.GetUserID(), event.NewUserLeftEvent)
	return nil
}

// handleSendMessage handles send_message. The pipeline's own publish step
// handles fan-out; the sender gets new_message the same way every other
// subscriber does.
func (r *Router) handleSendMessage(ctx context.Context, s Session, p wire.SendMessagePayload) error {
	if err := r.presence.BumpActivity(ctx, s.GetUserID()); err != nil {
		r.logger.Warn("bump activity failed", "user_id", s.GetUserID(), "err", err)
	}
	_, err := r.pipeline.Create(ctx, p.RoomID, s.GetUserID(), s.GetUsername(), p.Content, model.MessageKindText)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// handleLoadMore handles load_more_messages. Without a cursor it serves
// the newest page, so a client can bootstrap its history with the same
// event it pages with.
func (r *Router) handleLoadMore(ctx context.Context, s Session, p wire.LoadMorePayload) error {
	var (
		msgs    []*model.Message
		hasMore bool
		next    *uuid.UUID
		err     error
	)
	if p.Before == nil {
		msgs, err = r.pipeline.Recent(ctx, p.RoomID, p.Limit)
		if err == nil && len(msgs) == p.Limit {
			hasMore = true
			cursor := msgs[0].ID
			next = &cursor
		}
	} else {
		msgs, hasMore, next, err = r.pipeline.Older(ctx, p.RoomID, p.Limit, *p.Before)
	}
	if err != nil {
		return fmt.Errorf("load more: %w", err)
	}
	r.reply(s, wire.ServerMoreMessages, wire.MoreMessagesPayload{
		RoomID:     p.RoomID,
		Messages:   wire.FromMessages(msgs),
		HasMore:    hasMore,
		NextCursor: next,
	})
	return nil
}

// handleTyping handles typing_start/typing_stop. Only start bumps
// activity; both exclude the sender from the broadcast.
func (r *Router) handleTyping(ctx context.Context, s Session, p wire.TypingPayload, isTyping bool) error {
	if isTyping {
		if err := r.presence.BumpActivity(ctx, s.GetUserID()); err != nil {
			r.logger.Warn("bump activity failed", "user_id", s.GetUserID(), "err", err)
		}
	}
	ev := event.NewTypingEvent(p.RoomID, s.GetUserID(), s.GetUsername(), isTyping, s.GetID())
	if err := r.bus.Publish(ctx, ev); err != nil {
		r.logger.Warn("publish typing failed", "room_id", p.RoomID, "err", err)
	}
	return nil
}

// handleHeartbeat handles heartbeat.
func (r *Router) handleHeartbeat(ctx context.Context, s Session) error {
	if err := r.presence.BumpActivity(ctx, s.GetUserID()); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	if r.sessions != nil {
		if err := r.sessions.Refresh(ctx, s.GetUserID()); err != nil {
			r.logger.Warn("session key refresh failed", "user_id", s.GetUserID(), "err", err)
		}
	}
	r.reply(s, wire.ServerHeartbeatAck, struct{}{})
	return nil
}

// handleGetRoomPresences handles get_room_presences.
func (r *Router) handleGetRoomPresences(ctx context.Context, s Session, p wire.GetRoomPresencesPayload) error {
	snap, err := r.presence.Snapshot(ctx, p.RoomID)
	if err != nil {
		return fmt.Errorf("room presences: %w", err)
	}
	r.reply(s, wire.ServerRoomPresences, wire.RoomPresencesPayload{RoomID: p.RoomID, Presences: wire.FromPresences(snap)})
	return nil
}

// handleGetMyRooms handles get_my_rooms.
func (r *Router) handleGetMyRooms(ctx context.Context, s Session) error {
	rooms, err := r.memberships.ActiveRoomIDs(ctx, s.GetUserID())
	if err != nil {
		return fmt.Errorf("my rooms: %w", err)
	}
	r.reply(s, wire.ServerMyRooms, wire.MyRoomsPayload{Rooms: rooms})
	return nil
}

func recentMessagesPayload(roomID uuid.UUID, msgs []*model.Message) wire.RecentMessagesPayload {
	p := wire.RecentMessagesPayload{RoomID: roomID, Messages: wire.FromMessages(msgs)}
	if len(msgs) > 0 {
		p.HasMore = len(msgs) == defaultRecentPageSize
		if p.HasMore {
			cursor := msgs[0].ID
			p.NextCursor = &cursor
		}
	}
	return p
}

// emitPresence snapshots a room and publishes a presence-shaped event
// built by the given constructor — shared by join/leave/connect/disconnect.
func (r *Router) emitPresence(ctx context.Context, roomID, userID uuid.UUID, build func(roomID, userID uuid.UUID, presences []model.Presence) *event.RoomEvent) {
	snap, err := r.presence.Snapshot(ctx, roomID)
	if err != nil {
		r.logger.Warn("snapshot failed", "room_id", roomID, "err", err)
	}
	if err := r.bus.Publish(ctx, build(roomID, userID, snap)); err != nil {
		r.logger.Warn("publish presence event failed", "room_id", roomID, "err", err)
	}
}

func (r *Router) reply(s Session, name wire.ServerEventName, payload any) {
	s.Send(event.NewDirectEvent(string(name), payload), directReplyTimeout)
}

// sendError maps err to the wire taxonomy. Downstream failures reach the
// client as a generic server error: their real cause is for the logs, not
// the wire.
func (r *Router) sendError(s Session, err error) {
	code := wire.CodeFor(err)
	msg := err.Error()
	if code == wire.CodeServerError {
		msg = "internal server error"
	}
	s.Send(event.NewDirectEvent(string(wire.ServerError), wire.ErrorPayload{
		Message: msg,
		Code:    code,
	}), directReplyTimeout)
}
