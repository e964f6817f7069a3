// Package event defines the data packets that flow from the Fan-out Router
// and Message Pipeline, through the Bus Adapter, to every node's local
// room registry.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the payload carried by a RoomEvent.
type Kind int16

const (
	KindNewMessage Kind = iota + 1
	KindUserJoined
	KindUserLeft
	KindUserConnected
	KindUserDisconnected
	KindUserTyping

	// KindDirect marks a point-to-point reply to a single session (e.g.
	// heartbeat_ack, room_joined). It never crosses the Bus Adapter.
	KindDirect Kind = 100
)

// Priority controls backpressure shedding in the room-cell and session
// mailboxes: when a mailbox saturates, a low-priority event is dropped
// outright and a higher-priority one may evict a queued lower-priority
// event.
type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

// Eventer is the contract for all data flowing through the room registry
// and the Bus Adapter. Every event targets exactly one room; delivery
// within the room fans out to every locally-attached session.
type Eventer interface {
	GetID() string
	GetRoomID() uuid.UUID
	GetKind() Kind
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	// GetCached/SetCached hold a pre-marshaled wire representation so a
	// room with many local subscribers marshals the event exactly once.
	GetCached() any
	SetCached(any)
}

// Exportable marks an event that should be re-published to the Bus Adapter
// so other nodes' registries receive it too.
type Exportable interface {
	GetRoutingKey() string
}

// RoutingKey is the room-topic naming scheme the Bus Adapter subscribes on
// implicitly by room membership.
func RoutingKey(roomID uuid.UUID) string {
	return fmt.Sprintf("room.%s", roomID.String())
}

var (
	_ Eventer    = (*RoomEvent)(nil)
	_ Exportable = (*RoomEvent)(nil)
)

// RoomEvent is the concrete envelope used for every room-scoped signal:
// new messages, joins/leaves, connect/disconnect, typing indicators.
type RoomEvent struct {
	ID         string
	RoomID     uuid.UUID
	Kind       Kind
	Priority   Priority
	OccurredAt int64
	Payload    any
	Cached     any

	// OriginSessionID excludes the publishing session from local delivery
	// (typing indicators skip their sender). Zero value delivers to every
	// attached session, including the sender — the default for every other
	// event kind.
	OriginSessionID uuid.UUID
}

// NewRoomEvent stamps an event with a fresh id and the current time.
func NewRoomEvent(roomID uuid.UUID, kind Kind, priority Priority, payload any) *RoomEvent {
	return &RoomEvent{
		ID:         uuid.NewString(),
		RoomID:     roomID,
		Kind:       kind,
		Priority:   priority,
		OccurredAt: time.Now().UnixMilli(),
		Payload:    payload,
	}
}

func (e *RoomEvent) GetID() string                 { return e.ID }
func (e *RoomEvent) GetRoomID() uuid.UUID          { return e.RoomID }
func (e *RoomEvent) GetKind() Kind                 { return e.Kind }
func (e *RoomEvent) GetPriority() Priority         { return e.Priority }
func (e *RoomEvent) GetOccurredAt() int64          { return e.OccurredAt }
func (e *RoomEvent) GetPayload() any               { return e.Payload }
func (e *RoomEvent) GetCached() any                { return e.Cached }
func (e *RoomEvent) SetCached(v any)               { e.Cached = v }
func (e *RoomEvent) GetRoutingKey() string         { return RoutingKey(e.RoomID) }
func (e *RoomEvent) GetOriginSessionID() uuid.UUID { return e.OriginSessionID }

// Originator is implemented by events that can exclude one session from
// local fan-out delivery. Checked via type assertion so Eventer itself
// stays minimal.
type Originator interface {
	GetOriginSessionID() uuid.UUID
}

var _ Eventer = (*DirectEvent)(nil)

// DirectEvent is a point-to-point reply pushed into exactly one session's
// mailbox (room_joined, heartbeat_ack, error, ...). It is never published
// to the Bus Adapter — it doesn't implement Exportable.
type DirectEvent struct {
	ID         string
	Name       string
	Payload    any
	OccurredAt int64
}

// NewDirectEvent stamps a fresh id and timestamp on a reply bound for one
// session's outbound mailbox.
func NewDirectEvent(name string, payload any) *DirectEvent {
	return &DirectEvent{ID: uuid.NewString(), Name: name, Payload: payload, OccurredAt: time.Now().UnixMilli()}
}

func (e *DirectEvent) GetID() string         { return e.ID }
func (e *DirectEvent) GetRoomID() uuid.UUID  { return uuid.Nil }
func (e *DirectEvent) GetKind() Kind         { return KindDirect }
func (e *DirectEvent) GetPriority() Priority { return PriorityHigh }
func (e *DirectEvent) GetOccurredAt() int64  { return e.OccurredAt }
func (e *DirectEvent) GetPayload() any       { return e.Payload }
func (e *DirectEvent) GetCached() any        { return nil }
func (e *DirectEvent) SetCached(any)         {}
