// Package pipeline is the Message Pipeline: the only path a
// chat message takes from "user hit send" to "persisted, cached, and
// fanned out." The DB write is always synchronous and always first; cache
// and bus steps are best-effort and never cause a create to fail or retry;
// the DB remains the single source of truth.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/domain/model"
)

// Repository is the DB Adapter's message surface.
type Repository interface {
	Create(ctx context.Context, m *model.Message) (*model.Message, error)
	Newest(ctx context.Context, roomID uuid.UUID, limit int) ([]*model.Message, error)
	OlderThan(ctx context.Context, roomID uuid.UUID, beforeID uuid.UUID, limit int) ([]*model.Message, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Message, error)
}

// Cache is the KV Adapter's recent-message list.
type Cache interface {
	PushFront(ctx context.Context, roomID uuid.UUID, m *model.Message) error
	PushFrontSeed(ctx context.Context, roomID uuid.UUID, msgs []*model.Message) error
	Range(ctx context.Context, roomID uuid.UUID, n int) ([]*model.Message, error)
	Exists(ctx context.Context, roomID uuid.UUID) (bool, error)
}

// Publisher emits the new_message event to the room.
type Publisher interface {
	Publish(ctx context.Context, ev event.Eventer) error
}

const defaultPreloadSize = 100

type Pipeline struct {
	repo   Repository
	cache  Cache
	bus    Publisher
	logger *slog.Logger
}

func NewPipeline(repo Repository, cache Cache, bus Publisher, logger *slog.Logger) *Pipeline {
	return &Pipeline{repo: repo, cache: cache, bus: bus, logger: logger}
}

// Create appends to the DB (synchronous, authoritative), then best-effort
// caches and publishes. Cache/publish failures are logged and swallowed;
// there are no retries, the next reader repopulates from the DB.
func (p *Pipeline) Create(ctx context.Context, roomID, authorID uuid.UUID, author, content string, kind model.MessageKind) (*model.Message, error) {
	m := &model.Message{
		RoomID:   roomID,
		AuthorID: authorID,
		Author:   author,
		Content:  content,
		Kind:     kind,
	}
	saved, err := p.repo.Create(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create message: %w", err)
	}

	if err := p.cache.PushFront(ctx, roomID, saved); err != nil {
		p.logger.Warn("cache push_front failed, next reader repopulates from DB", "room_id", roomID, "err", err)
	}

	if err := p.bus.Publish(ctx, event.NewMessageEvent(saved)); err != nil {
		p.logger.Warn("publish new_message failed", "room_id", roomID, "message_id", saved.ID, "err", err)
	}

	return saved, nil
}

// Recent returns up to limit newest messages in chronological order,
// stitching the cache with the DB. The DB fetch boundary is strictly
// older than the oldest cached entry, so the concatenation never
// double-counts a row.
func (p *Pipeline) Recent(ctx context.Context, roomID uuid.UUID, limit int) ([]*model.Message, error) {
	cached, err := p.cache.Range(ctx, roomID, limit)
	if err != nil {
		p.logger.Warn("cache range failed, falling back to DB", "room_id", roomID, "err", err)
		cached = nil
	}

	if len(cached) >= limit {
		chrono := reversed(cached)
		return chrono[len(chrono)-limit:], nil
	}

	if len(cached) > 0 {
		oldestCached := cached[len(cached)-1]
		need := limit - len(cached)
		older, _, err := p.repo.OlderThan(ctx, roomID, oldestCached.ID, need)
		if err != nil {
			return nil, fmt.Errorf("pipeline: fetch older for stitch: %w", err)
		}
		chronoCached := reversed(cached)
		return append(older, chronoCached...), nil
	}

	fresh, err := p.repo.Newest(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch newest: %w", err)
	}
	if err := p.cache.PushFrontSeed(ctx, roomID, fresh); err != nil {
		p.logger.Warn("cache seed failed", "room_id", roomID, "err", err)
	}
	return fresh, nil
}

// Older bypasses the cache entirely: resolve beforeID to its
// DB position and return limit rows strictly older, chronological order,
// with the standard fetch-N+1 has_more trick.
func (p *Pipeline) Older(ctx context.Context, roomID uuid.UUID, limit int, beforeID uuid.UUID) (msgs []*model.Message, hasMore bool, nextCursor *uuid.UUID, err error) {
	msgs, hasMore, err = p.repo.OlderThan(ctx, roomID, beforeID, limit)
	if err != nil {
		return nil, false, nil, fmt.Errorf("pipeline: older: %w", err)
	}
	if hasMore && len(msgs) > 0 {
		cursor := msgs[0].ID
		nextCursor = &cursor
	}
	return msgs, hasMore, nextCursor, nil
}

// Preload seeds an absent cache entry with up to 100 newest DB rows. It is
// best-effort and must never block the caller's join response, so the
// router runs it in its own goroutine and only logs the returned error.
func (p *Pipeline) Preload(ctx context.Context, roomID uuid.UUID) error {
	exists, err := p.cache.Exists(ctx, roomID)
	if err != nil {
		return fmt.Errorf("pipeline: preload exists check: %w", err)
	}
	if exists {
		return nil
	}
	fresh, err := p.repo.Newest(ctx, roomID, defaultPreloadSize)
	if err != nil {
		return fmt.Errorf("pipeline: preload fetch: %w", err)
	}
	return p.cache.PushFrontSeed(ctx, roomID, fresh)
}

func reversed(msgs []*model.Message) []*model.Message {
	out := make([]*model.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
