package presence

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/domain/model"
)

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

var errNotFound = &simpleErr{"not found"}

type simpleErr struct{ s string }

func (e *simpleErr) Error() string { return e.s }

type fakeHeartbeats struct {
	last map[uuid.UUID]time.Time
}

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

type fakeMembers struct{ byRoom map[uuid.UUID]map[uuid.UUID]bool }

func newFakeMembers() *fakeMembers { return &fakeMembers{byRoom: map[uuid.UUID]map[uuid.UUID]bool{}} }

func (f *fakeMembers) Add(ctx context.Context, roomID, userID uuid.UUID) error {
	if f.byRoom[roomID] == nil {
		f.byRoom[roomID] = map[uuid.UUID]bool{}
	}
	f.byRoom[roomID][userID] = true
	return nil
}

func (f *fakeMembers) Remove(ctx context.Context, roomID, userID uuid.UUID) error {
	delete(f.byRoom[roomID], userID)
	return nil
}

func (f *fakeMembers) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0)
	for id := range f.byRoom[roomID] {
		out = append(out, id)
	}
	return out, nil
}

type fakeDB struct{ rooms map[uuid.UUID][]uuid.UUID }

func (f *fakeDB) ActiveRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return f.rooms[userID], nil
}

type fakeBus struct{ published []event.Eventer }

func (f *fakeBus) Publish(ctx context.Context, ev event.Eventer) error {
	f.published = append(f.published, ev)
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestEngine() (*Engine, *fakeOnline, *fakeHeartbeats, *fakeBus) {
	online := newFakeOnline()
	records := newFakeRecords()
	heartbeats := newFakeHeartbeats()
	members := newFakeMembers()
	db := &fakeDB{rooms: map[uuid.UUID][]uuid.UUID{}}
	bus := &fakeBus{}
	return NewEngine(online, records, heartbeats, members, db, bus, testLogger()), online, heartbeats, bus
}

func TestMarkOnlineAddsToOnlineSetAndMembers(t *testing.T) {
	e, online, _, _ := newTestEngine()
	userID, roomID := uuid.New(), uuid.New()

	if err := e.MarkOnline(context.Background(), userID, []uuid.UUID{roomID}); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if !online.set[userID] {
		t.Fatal("expected user in online set")
	}
	members, _ := e.Snapshot(context.Background(), roomID)
	if len(members) != 1 || members[0].UserID != userID {
		t.Fatalf("expected snapshot to contain user, got %+v", members)
	}
}

func TestMarkOfflineGatesOnRemoval(t *testing.T) {
	e, _, _, _ := newTestEngine()
	userID := uuid.New()

	if err := e.MarkOnline(context.Background(), userID, nil); err != nil {
		t.Fatalf("mark online: %v", err)
	}

	removed, _, err := e.MarkOffline(context.Background(), userID)
	if err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if !removed {
		t.Fatal("expected first mark_offline to report removed=true")
	}

	removedAgain, _, err := e.MarkOffline(context.Background(), userID)
	if err != nil {
		t.Fatalf("mark offline again: %v", err)
	}
	if removedAgain {
		t.Fatal("expected second mark_offline to report removed=false (already offline)")
	}
}

func TestBumpActivityRehydratesFromDB(t *testing.T) {
	e, online, heartbeats, bus := newTestEngine()
	userID, roomID := uuid.New(), uuid.New()
	e.db.(*fakeDB).rooms[userID] = []uuid.UUID{roomID}

	if err := e.BumpActivity(context.Background(), userID); err != nil {
		t.Fatalf("bump activity: %v", err)
	}
	if !online.set[userID] {
		t.Fatal("expected rehydration to mark user online")
	}
	if _, ok := heartbeats.last[userID]; !ok {
		t.Fatal("expected heartbeat to be touched")
	}
	if len(bus.published) != 1 || bus.published[0].GetKind() != event.KindUserConnected {
		t.Fatalf("expected one user_connected event, got %+v", bus.published)
	}

	bus.published = nil
	if err := e.BumpActivity(context.Background(), userID); err != nil {
		t.Fatalf("bump activity again: %v", err)
	}
	if len(bus.published) != 0 {
		t.Fatal("expected no re-emit while already online")
	}
}
