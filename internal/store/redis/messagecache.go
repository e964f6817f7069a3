package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/webitel/chat-core/internal/domain/model"
)

// ErrNotCached signals an empty/missing cache list; callers fall back to
// the DB adapter.
var ErrNotCached = errors.New("redis: not cached")

func cacheKey(roomID uuid.UUID) string {
	return "cache:room:" + roomID.String()
}

// MessageCache implements the recent-message list: a bounded,
// newest-first list per room with a refreshed TTL.
type MessageCache struct {
	rdb *goredis.Client
	k   int
	ttl time.Duration
}

// NewMessageCache builds a cache bounded to k entries per room (k≈100),
// evicted ttl after the last write.
func NewMessageCache(c *Client, k int, ttl time.Duration) *MessageCache {
	if k <= 0 {
		k = 100
	}
	if ttl <= 0 {
		ttl = MessageCacheTTL
	}
	return &MessageCache{rdb: c.rdb, k: k, ttl: ttl}
}

// PushFront inserts one message at the head and trims and refreshes the
// TTL in a single pipeline, keeping length bounded by k even under
// interleaved writers.
func (c *MessageCache) PushFront(ctx context.Context, roomID uuid.UUID, m *model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis: marshal message: %w", err)
	}
	key := cacheKey(roomID)
	// [ATOMIC_PIPELINE] Push, trim and TTL refresh travel as one unit so
	// interleaved writers can never observe or leave a list longer than k.
	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(c.k-1))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push front: %w", err)
	}
	return nil
}

// PushFrontSeed seeds an empty cache with msgs in chronological order, so
// the list ends newest-first.
func (c *MessageCache) PushFrontSeed(ctx context.Context, roomID uuid.UUID, msgs []*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	key := cacheKey(roomID)
	pipe := c.rdb.TxPipeline()
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal seed message: %w", err)
		}
		pipe.LPush(ctx, key, data)
	}
	pipe.LTrim(ctx, key, 0, int64(c.k-1))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: seed cache: %w", err)
	}
	return nil
}

// Range returns up to n newest-first cached messages (index 0..n-1).
func (c *MessageCache) Range(ctx context.Context, roomID uuid.UUID, n int) ([]*model.Message, error) {
	raw, err := c.rdb.LRange(ctx, cacheKey(roomID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: range: %w", err)
	}
	out := make([]*model.Message, 0, len(raw))
	for _, s := range raw {
		m := &model.Message{}
		if err := json.Unmarshal([]byte(s), m); err != nil {
			return nil, fmt.Errorf("redis: unmarshal cached message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *MessageCache) Length(ctx context.Context, roomID uuid.UUID) (int64, error) {
	return c.rdb.LLen(ctx, cacheKey(roomID)).Result()
}

func (c *MessageCache) Exists(ctx context.Context, roomID uuid.UUID) (bool, error) {
	n, err := c.rdb.Exists(ctx, cacheKey(roomID)).Result()
	return n > 0, err
}

func (c *MessageCache) Delete(ctx context.Context, roomID uuid.UUID) error {
	return c.rdb.Del(ctx, cacheKey(roomID)).Err()
}
