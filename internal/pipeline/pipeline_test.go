package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/domain/model"
)

type fakeRepo struct {
	byRoom map[uuid.UUID][]*model.Message // chronological order
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byRoom: make(map[uuid.UUID][]*model.Message)}
}

func (f *fakeRepo) Create(ctx context.Context, m *model.Message) (*model.Message, error) {
	cp := *m
	cp.ID = uuid.New()
	cp.CreatedAt = time.Now()
	f.byRoom[m.RoomID] = append(f.byRoom[m.RoomID], &cp)
	return &cp, nil
}

func (f *fakeRepo) Newest(ctx context.Context, roomID uuid.UUID, limit int) ([]*model.Message, error) {
	all := f.byRoom[roomID]
	if len(all) <= limit {
		out := make([]*model.Message, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]*model.Message, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

func (f *fakeRepo) OlderThan(ctx context.Context, roomID uuid.UUID, beforeID uuid.UUID, limit int) ([]*model.Message, bool, error) {
	all := f.byRoom[roomID]
	idx := -1
	for i, m := range all {
		if m.ID == beforeID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return nil, false, nil
	}
	older := all[:idx]
	hasMore := len(older) > limit
	if hasMore {
		older = older[len(older)-limit:]
	}
	out := make([]*model.Message, len(older))
	copy(out, older)
	return out, hasMore, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	for _, all := range f.byRoom {
		for _, m := range all {
			if m.ID == id {
				return m, nil
			}
		}
	}
	return nil, ErrTestNotFound
}

var ErrTestNotFound = &testErr{"not found"}

type testErr struct{ s string }

func (e *testErr) Error() string { return e.s }

// fakeCache stores newest-first, like the real redis list.
type fakeCache struct {
	byRoom map[uuid.UUID][]*model.Message
	k      int
}

func newFakeCache(k int) *fakeCache {
	return &fakeCache{byRoom: make(map[uuid.UUID][]*model.Message), k: k}
}

func (f *fakeCache) PushFront(ctx context.Context, roomID uuid.UUID, m *model.Message) error {
	list := append([]*model.Message{m}, f.byRoom[roomID]...)
	if len(list) > f.k {
		list = list[:f.k]
	}
	f.byRoom[roomID] = list
	return nil
}

func (f *fakeCache) PushFrontSeed(ctx context.Context, roomID uuid.UUID, msgs []*model.Message) error {
	for _, m := range msgs {
		if err := f.PushFront(ctx, roomID, m); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCache) Range(ctx context.Context, roomID uuid.UUID, n int) ([]*model.Message, error) {
	list := f.byRoom[roomID]
	if n > len(list) {
		n = len(list)
	}
	out := make([]*model.Message, n)
	copy(out, list[:n])
	return out, nil
}

func (f *fakeCache) Exists(ctx context.Context, roomID uuid.UUID) (bool, error) {
	return len(f.byRoom[roomID]) > 0, nil
}

type fakeBus struct{ published []event.Eventer }

func (f *fakeBus) Publish(ctx context.Context, ev event.Eventer) error {
	f.published = append(f.published, ev)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreatePersistsCachesAndPublishes(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache(100)
	bus := &fakeBus{}
	p := NewPipeline(repo, cache, bus, testLogger())

	roomID := uuid.New()
	userID := uuid.New()

	saved, err := p.Create(context.Background(), roomID, userID, "alice", "hello", model.MessageKindText)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if saved.ID == uuid.Nil {
		t.Fatal("expected DB to assign an id")
	}
	if len(repo.byRoom[roomID]) != 1 {
		t.Fatalf("expected 1 persisted row, got %d", len(repo.byRoom[roomID]))
	}
	if len(cache.byRoom[roomID]) != 1 {
		t.Fatalf("expected 1 cached row, got %d", len(cache.byRoom[roomID]))
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(bus.published))
	}
	if bus.published[0].GetKind() != event.KindNewMessage {
		t.Fatalf("expected new_message event, got kind %v", bus.published[0].GetKind())
	}
}

func TestRecentFromCacheOnly(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache(100)
	bus := &fakeBus{}
	p := NewPipeline(repo, cache, bus, testLogger())
	roomID := uuid.New()

	for i := 0; i < 5; i++ {
		if _, err := p.Create(context.Background(), roomID, uuid.New(), "u", "msg", model.MessageKindText); err != nil {
			t.Fatalf("seed create: %v", err)
		}
	}

	got, err := p.Recent(context.Background(), roomID, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(got))
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].CreatedAt.Before(got[j].CreatedAt) }) {
		t.Fatal("expected chronological order")
	}
}

func TestRecentStitchesCacheAndDB(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache(2) // only holds 2, forcing a stitch for larger asks
	bus := &fakeBus{}
	p := NewPipeline(repo, cache, bus, testLogger())
	roomID := uuid.New()

	for i := 0; i < 5; i++ {
		if _, err := p.Create(context.Background(), roomID, uuid.New(), "u", "msg", model.MessageKindText); err != nil {
			t.Fatalf("seed create: %v", err)
		}
	}

	got, err := p.Recent(context.Background(), roomID, 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 stitched messages, got %d", len(got))
	}
	seen := make(map[uuid.UUID]bool)
	for _, m := range got {
		if seen[m.ID] {
			t.Fatalf("duplicate message %s in stitched result", m.ID)
		}
		seen[m.ID] = true
	}
}

func TestRecentFallsBackToDBWhenCacheEmpty(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache(100)
	bus := &fakeBus{}
	p := NewPipeline(repo, cache, bus, testLogger())
	roomID := uuid.New()

	// Seed the DB directly, bypassing the cache, to simulate a cold cache.
	for i := 0; i < 3; i++ {
		if _, err := repo.Create(context.Background(), &model.Message{RoomID: roomID, Content: "x"}); err != nil {
			t.Fatalf("seed db: %v", err)
		}
	}

	got, err := p.Recent(context.Background(), roomID, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 messages from DB, got %d", len(got))
	}
	if len(cache.byRoom[roomID]) != 3 {
		t.Fatal("expected cache to be seeded after cold read")
	}
}

func TestOlderReportsHasMoreAndCursor(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache(100)
	bus := &fakeBus{}
	p := NewPipeline(repo, cache, bus, testLogger())
	roomID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		saved, err := p.Create(context.Background(), roomID, uuid.New(), "u", "msg", model.MessageKindText)
		if err != nil {
			t.Fatalf("seed create: %v", err)
		}
		ids = append(ids, saved.ID)
	}

	msgs, hasMore, cursor, err := p.Older(context.Background(), roomID, 2, ids[len(ids)-1])
	if err != nil {
		t.Fatalf("older: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !hasMore {
		t.Fatal("expected has_more = true")
	}
	if cursor == nil {
		t.Fatal("expected next_cursor to be set")
	}
}

func TestPreloadSkipsExistingCache(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache(100)
	bus := &fakeBus{}
	p := NewPipeline(repo, cache, bus, testLogger())
	roomID := uuid.New()

	cache.byRoom[roomID] = []*model.Message{{ID: uuid.New(), RoomID: roomID}}

	if err := p.Preload(context.Background(), roomID); err != nil {
		t.Fatalf("preload: %v", err)
	}
	if len(cache.byRoom[roomID]) != 1 {
		t.Fatal("expected preload to leave an existing cache untouched")
	}
}
