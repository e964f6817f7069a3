package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

func heartbeatKey(userID uuid.UUID) string {
	return "heartbeat:" + userID.String()
}

func sessionKey(userID uuid.UUID) string {
	return "session:" + userID.String()
}

// HeartbeatKeys implements the TTL-keyed heartbeat timestamp:
// the Presence Engine's O(1) `touch` hot path and the reaper's staleness
// check read/write this directly rather than through the presence hash.
type HeartbeatKeys struct {
	rdb *goredis.Client
	ttl time.Duration
}

func NewHeartbeatKeys(c *Client, ttl time.Duration) *HeartbeatKeys {
	if ttl <= 0 {
		ttl = HeartbeatTTL
	}
	return &HeartbeatKeys{rdb: c.rdb, ttl: ttl}
}

func (h *HeartbeatKeys) Touch(ctx context.Context, userID uuid.UUID, at time.Time) error {
	if err := h.rdb.Set(ctx, heartbeatKey(userID), at.UnixMilli(), h.ttl).Err(); err != nil {
		return fmt.Errorf("redis: touch heartbeat: %w", err)
	}
	return nil
}

// Get returns the last heartbeat time and whether the key was present.
// found=false — key absent, expired past its TTL or never set — is what
// the reaper treats as stale.
func (h *HeartbeatKeys) Get(ctx context.Context, userID uuid.UUID) (t time.Time, found bool, err error) {
	ms, err := h.rdb.Get(ctx, heartbeatKey(userID)).Int64()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis: get heartbeat: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (h *HeartbeatKeys) Delete(ctx context.Context, userID uuid.UUID) error {
	return h.rdb.Del(ctx, heartbeatKey(userID)).Err()
}

// SessionKeys implements the TTL-keyed session->socket mapping,
// refreshed on activity.
type SessionKeys struct {
	rdb *goredis.Client
}

func NewSessionKeys(c *Client) *SessionKeys {
	return &SessionKeys{rdb: c.rdb}
}

func (s *SessionKeys) Set(ctx context.Context, userID uuid.UUID, socketID string) error {
	if err := s.rdb.Set(ctx, sessionKey(userID), socketID, SessionTTL).Err(); err != nil {
		return fmt.Errorf("redis: set session: %w", err)
	}
	return nil
}

func (s *SessionKeys) Get(ctx context.Context, userID uuid.UUID) (string, error) {
	v, err := s.rdb.Get(ctx, sessionKey(userID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: get session: %w", err)
	}
	return v, nil
}

func (s *SessionKeys) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Expire(ctx, sessionKey(userID), SessionTTL).Err(); err != nil {
		return fmt.Errorf("redis: refresh session: %w", err)
	}
	return nil
}

func (s *SessionKeys) Delete(ctx context.Context, userID uuid.UUID) error {
	return s.rdb.Del(ctx, sessionKey(userID)).Err()
}
