package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/auth"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/domain/model"
	"github.com/webitel/chat-core/internal/pipeline"
	"github.com/webitel/chat-core/internal/presence"
	"github.com/webitel/chat-core/internal/wire"
)

// --- presence engine fakes (mirrors internal/presence's own test fakes) ---

type fakeOnline struct{ set map[uuid.UUID]bool }

func newFakeOnline() *fakeOnline { return &fakeOnline{set: map[uuid.UUID]bool{}} }
func (f *fakeOnline) Add(ctx context.Context, userID uuid.UUID) error {
	f.set[userID] = true
	return nil
}
func (f *fakeOnline) Remove(ctx context.Context, userID uuid.UUID) (bool, error) {
	if f.set[userID] {
		delete(f.set, userID)
		return true, nil
	}
	return false, nil
}
func (f *fakeOnline) Members(ctx context.Context) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(f.set))
	for id := range f.set {
		out = append(out, id)
	}
	return out, nil
}

type fakeRecords struct{ byUser map[uuid.UUID]model.Presence }

func newFakeRecords() *fakeRecords { return &fakeRecords{byUser: map[uuid.UUID]model.Presence{}} }
func (f *fakeRecords) Set(ctx context.Context, p model.Presence) error {
	f.byUser[p.UserID] = p
	return nil
}
func (f *fakeRecords) Get(ctx context.Context, userID uuid.UUID) (model.Presence, error) {
	p, ok := f.byUser[userID]
	if !ok {
		return model.Presence{}, errNotFound
	}
	return p, nil
}

var errNotFound = simpleErr("not found")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

type fakeHeartbeats struct{ last map[uuid.UUID]time.Time }

func newFakeHeartbeats() *fakeHeartbeats { return &fakeHeartbeats{last: map[uuid.UUID]time.Time{}} }
func (f *fakeHeartbeats) Touch(ctx context.Context, userID uuid.UUID, at time.Time) error {
	f.last[userID] = at
	return nil
}
func (f *fakeHeartbeats) Get(ctx context.Context, userID uuid.UUID) (time.Time, bool, error) {
	t, ok := f.last[userID]
	return t, ok, nil
}
func (f *fakeHeartbeats) Delete(ctx context.Context, userID uuid.UUID) error {
	delete(f.last, userID)
	return nil
}

type fakeMembersCache struct{ byRoom map[uuid.UUID]map[uuid.UUID]bool }

func newFakeMembersCache() *fakeMembersCache {
	return &fakeMembersCache{byRoom: map[uuid.UUID]map[uuid.UUID]bool{}}
}
func (f *fakeMembersCache) Add(ctx context.Context, roomID, userID uuid.UUID) error {
	if f.byRoom[roomID] == nil {
		f.byRoom[roomID] = map[uuid.UUID]bool{}
	}
	f.byRoom[roomID][userID] = true
	return nil
}
func (f *fakeMembersCache) Remove(ctx context.Context, roomID, userID uuid.UUID) error {
	delete(f.byRoom[roomID], userID)
	return nil
}
func (f *fakeMembersCache) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0)
	for id := range f.byRoom[roomID] {
		out = append(out, id)
	}
	return out, nil
}

type fakeBus struct{ published []event.Eventer }

func (f *fakeBus) Publish(ctx context.Context, ev event.Eventer) error {
	f.published = append(f.published, ev)
	return nil
}

type fakeBusSub struct{ subscribed []uuid.UUID }

func (f *fakeBusSub) Subscribe(ctx context.Context, roomID uuid.UUID) error {
	f.subscribed = append(f.subscribed, roomID)
	return nil
}

// --- DB-ish fakes ---

type fakeMemberships struct {
	active map[uuid.UUID]map[uuid.UUID]bool // userID -> roomID -> active
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{active: map[uuid.UUID]map[uuid.UUID]bool{}}
}
func (f *fakeMemberships) IsActive(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return f.active[userID][roomID], nil
}
func (f *fakeMemberships) Upsert(ctx context.Context, userID, roomID uuid.UUID) error {
	if f.active[userID] == nil {
		f.active[userID] = map[uuid.UUID]bool{}
	}
	f.active[userID][roomID] = true
	return nil
}
func (f *fakeMemberships) Deactivate(ctx context.Context, userID, roomID uuid.UUID) error {
	f.active[userID][roomID] = false
	return nil
}
func (f *fakeMemberships) ActiveRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for roomID, active := range f.active[userID] {
		if active {
			out = append(out, roomID)
		}
	}
	return out, nil
}

type fakeRooms struct{ byID map[uuid.UUID]*model.Room }

func (f *fakeRooms) GetByID(ctx context.Context, id uuid.UUID) (*model.Room, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, errNotFound
	}
	return r, nil
}

// --- pipeline fakes ---

type fakeRepo struct {
	mu   []*model.Message
	next int
}

func (f *fakeRepo) Create(ctx context.Context, m *model.Message) (*model.Message, error) {
	m.ID = uuid.New()
	m.CreatedAt = time.Now()
	f.mu = append(f.mu, m)
	return m, nil
}
func (f *fakeRepo) Newest(ctx context.Context, roomID uuid.UUID, limit int) ([]*model.Message, error) {
	return nil, nil
}
func (f *fakeRepo) OlderThan(ctx context.Context, roomID uuid.UUID, beforeID uuid.UUID, limit int) ([]*model.Message, bool, error) {
	return nil, false, nil
}
func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	return nil, errNotFound
}

type fakeCache struct{}

func (f *fakeCache) PushFront(ctx context.Context, roomID uuid.UUID, m *model.Message) error {
	return nil
}
func (f *fakeCache) PushFrontSeed(ctx context.Context, roomID uuid.UUID, msgs []*model.Message) error {
	return nil
}
func (f *fakeCache) Range(ctx context.Context, roomID uuid.UUID, n int) ([]*model.Message, error) {
	return nil, nil
}
func (f *fakeCache) Exists(ctx context.Context, roomID uuid.UUID) (bool, error) { return true, nil }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRouter(t *testing.T) (*Router, *fakeBus, *Registry, *model.Room) {
	t.Helper()
	registry := NewRegistry(testLogger(), WithMailboxSize(8))
	t.Cleanup(registry.Shutdown)

	engine := presence.NewEngine(newFakeOnline(), newFakeRecords(), newFakeHeartbeats(), newFakeMembersCache(), newFakeMemberships(), &fakeBus{}, testLogger())
	pl := pipeline.NewPipeline(&fakeRepo{}, &fakeCache{}, &fakeBus{}, testLogger())

	room := &model.Room{ID: uuid.New(), Name: "general", CreatorID: uuid.New(), CreatedAt: time.Now()}
	rooms := &fakeRooms{byID: map[uuid.UUID]*model.Room{room.ID: room}}
	memberships := newFakeMemberships()
	bus := &fakeBus{}

	r := NewRouter(registry, engine, pl, rooms, memberships, bus, &fakeBusSub{}, testLogger())
	return r, bus, registry, room
}

func envelope(t *testing.T, name wire.ClientEventName, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(wire.Envelope{Event: name, Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func recvEnvelope(t *testing.T, s Session) wire.ServerEnvelope {
	t.Helper()
	select {
	case ev := <-s.Recv():
		out, ok := wire.ToEnvelope(ev)
		if !ok {
			t.Fatalf("no wire mapping for event kind %v", ev.GetKind())
		}
		return out
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply")
		return wire.ServerEnvelope{}
	}
}

func TestJoinRoomRepliesAndBroadcastsUserJoined(t *testing.T) {
	r, bus, _, room := newTestRouter(t)
	s := NewSession(context.Background(), uuid.New(), "alice", 8)

	raw := envelope(t, wire.EventJoinRoom, wire.JoinRoomPayload{RoomID: room.ID})
	r.Dispatch(context.Background(), s, raw)

	joined := recvEnvelope(t, s)
	if joined.Event != wire.ServerRoomJoined {
		t.Fatalf("expected room_joined, got %s", joined.Event)
	}
	recent := recvEnvelope(t, s)
	if recent.Event != wire.ServerRecentMessages {
		t.Fatalf("expected recent_messages, got %s", recent.Event)
	}

	if !s.HasJoined(room.ID) {
		t.Fatal("expected session to be marked joined")
	}
	if len(bus.published) != 1 || bus.published[0].GetKind() != event.KindUserJoined {
		t.Fatalf("expected one user_joined publish, got %+v", bus.published)
	}
}

func TestJoinPrivateRoomWithoutPasscodeErrors(t *testing.T) {
	r, _, _, room := newTestRouter(t)
	room.Private = true
	hash, err := auth.HashPassword("secret")
	if err != nil {
		t.Fatal(err)
	}
	room.CredentialHash = hash

	s := NewSession(context.Background(), uuid.New(), "bob", 8)
	raw := envelope(t, wire.EventJoinRoom, wire.JoinRoomPayload{RoomID: room.ID})
	r.Dispatch(context.Background(), s, raw)

	reply := recvEnvelope(t, s)
	if reply.Event != wire.ServerError {
		t.Fatalf("expected error reply, got %s", reply.Event)
	}
}

func TestSendMessageEmptyContentReplyError(t *testing.T) {
	r, _, _, room := newTestRouter(t)
	s := NewSession(context.Background(), uuid.New(), "alice", 8)

	raw := envelope(t, wire.EventSendMessage, wire.SendMessagePayload{RoomID: room.ID, Content: "   "})
	r.Dispatch(context.Background(), s, raw)

	reply := recvEnvelope(t, s)
	if reply.Event != wire.ServerError {
		t.Fatalf("expected error reply for blank content, got %s", reply.Event)
	}
}

func TestHeartbeatReplyAck(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	s := NewSession(context.Background(), uuid.New(), "alice", 8)

	raw := envelope(t, wire.EventHeartbeat, struct{}{})
	r.Dispatch(context.Background(), s, raw)

	reply := recvEnvelope(t, s)
	if reply.Event != wire.ServerHeartbeatAck {
		t.Fatalf("expected heartbeat_ack, got %s", reply.Event)
	}
}

func TestTypingExcludesSender(t *testing.T) {
	r, _, registry, room := newTestRouter(t)
	sender := NewSession(context.Background(), uuid.New(), "alice", 8)
	other := NewSession(context.Background(), uuid.New(), "bob", 8)
	registry.Register(room.ID, sender)
	registry.Register(room.ID, other)

	ev := event.NewTypingEvent(room.ID, sender.GetUserID(), "alice", true, sender.GetID())
	registry.Broadcast(ev)

	select {
	case got := <-other.Recv():
		if got.GetID() != ev.GetID() {
			t.Fatalf("expected typing event delivered to other session")
		}
	case <-time.After(time.Second):
		t.Fatal("expected other session to receive typing event")
	}

	select {
	case <-sender.Recv():
		t.Fatal("sender should not receive its own typing event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLoadMoreWithoutCursorServesNewestPage(t *testing.T) {
	r, _, _, room := newTestRouter(t)
	s := NewSession(context.Background(), uuid.New(), "alice", 8)

	raw := envelope(t, wire.EventLoadMore, wire.LoadMorePayload{RoomID: room.ID, Limit: 10})
	r.Dispatch(context.Background(), s, raw)

	reply := recvEnvelope(t, s)
	if reply.Event != wire.ServerMoreMessages {
		t.Fatalf("expected more_messages_loaded, got %s", reply.Event)
	}
	payload, ok := reply.Data.(wire.MoreMessagesPayload)
	if !ok {
		t.Fatalf("expected MoreMessagesPayload, got %T", reply.Data)
	}
	if payload.HasMore {
		t.Fatal("empty room must not report has_more")
	}
}

func TestGetMyRoomsRepliesWithActiveRooms(t *testing.T) {
	r, _, _, room := newTestRouter(t)
	s := NewSession(context.Background(), uuid.New(), "alice", 8)

	join := envelope(t, wire.EventJoinRoom, wire.JoinRoomPayload{RoomID: room.ID})
	r.Dispatch(context.Background(), s, join)
	recvEnvelope(t, s) // room_joined
	recvEnvelope(t, s) // recent_messages

	raw := envelope(t, wire.EventGetMyRooms, struct{}{})
	r.Dispatch(context.Background(), s, raw)

	reply := recvEnvelope(t, s)
	if reply.Event != wire.ServerMyRooms {
		t.Fatalf("expected my_rooms, got %s", reply.Event)
	}
	payload, ok := reply.Data.(wire.MyRoomsPayload)
	if !ok {
		t.Fatalf("expected MyRoomsPayload, got %T", reply.Data)
	}
	if len(payload.Rooms) != 1 || payload.Rooms[0] != room.ID {
		t.Fatalf("expected joined room in my_rooms, got %+v", payload.Rooms)
	}
}

func TestUnknownEventYieldsValidationError(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	s := NewSession(context.Background(), uuid.New(), "alice", 8)

	r.Dispatch(context.Background(), s, []byte(`{"event":"bogus","data":{}}`))

	reply := recvEnvelope(t, s)
	if reply.Event != wire.ServerError {
		t.Fatalf("expected error reply, got %s", reply.Event)
	}
	payload, ok := reply.Data.(wire.ErrorPayload)
	if !ok {
		t.Fatalf("expected ErrorPayload, got %T", reply.Data)
	}
	if payload.Code != wire.CodeValidationError {
		t.Fatalf("expected VALIDATION_ERROR, got %s", payload.Code)
	}
}
