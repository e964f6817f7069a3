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

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

// presenceRecord is the hash payload shape: "active rooms
// field is serialized as a sequence."
type presenceRecord struct {
	UserID      uuid.UUID   `json:"user_id"`
	Status      string      `json:"status"`
	LastSeen    time.Time   `json:"last_seen"`
	ActiveRooms []uuid.UUID `json:"active_rooms"`
}

// PresenceHash implements `hash(presence:user_id -> record)`:
// set/get the full record as one value, not field-by-field, since the
// Presence Engine always rewrites the whole record on mark_online/offline.
type PresenceHash struct {
	rdb *goredis.Client
}

func NewPresenceHash(c *Client) *PresenceHash {
	return &PresenceHash{rdb: c.rdb}
}

func (p *PresenceHash) Set(ctx context.Context, pr model.Presence) error {
	rec := presenceRecord{
		UserID:      pr.UserID,
		Status:      string(pr.Status),
		LastSeen:    pr.LastSeen,
		ActiveRooms: pr.ActiveRooms,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal presence: %w", err)
	}
	if err := p.rdb.Set(ctx, presenceKey(pr.UserID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set presence: %w", err)
	}
	return nil
}

var ErrNoPresence = errors.New("redis: no presence record")

func (p *PresenceHash) Get(ctx context.Context, userID uuid.UUID) (model.Presence, error) {
	data, err := p.rdb.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return model.Presence{}, ErrNoPresence
	}
	if err != nil {
		return model.Presence{}, fmt.Errorf("redis: get presence: %w", err)
	}
	var rec presenceRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return model.Presence{}, fmt.Errorf("redis: unmarshal presence: %w", err)
	}
	return model.Presence{
		UserID:      rec.UserID,
		Status:      model.PresenceStatus(rec.Status),
		LastSeen:    rec.LastSeen,
		ActiveRooms: rec.ActiveRooms,
	}, nil
}
