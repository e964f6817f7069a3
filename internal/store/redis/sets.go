package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const onlineUsersKey = "online_users"

func roomMembersKey(roomID uuid.UUID) string {
	return "room:" + roomID.String() + ":members"
}

// RoomMembers implements the room-members set: a
// denormalized cache of active membership consulted before the DB for
// fan-out target lookup.
type RoomMembers struct {
	rdb *goredis.Client
}

func NewRoomMembers(c *Client) *RoomMembers {
	return &RoomMembers{rdb: c.rdb}
}

func (r *RoomMembers) Add(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := r.rdb.SAdd(ctx, roomMembersKey(roomID), userID.String()).Err(); err != nil {
		return fmt.Errorf("redis: room members add: %w", err)
	}
	return nil
}

func (r *RoomMembers) Remove(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := r.rdb.SRem(ctx, roomMembersKey(roomID), userID.String()).Err(); err != nil {
		return fmt.Errorf("redis: room members remove: %w", err)
	}
	return nil
}

func (r *RoomMembers) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	raw, err := r.rdb.SMembers(ctx, roomMembersKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: room members: %w", err)
	}
	return parseUUIDs(raw)
}

func (r *RoomMembers) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, roomMembersKey(roomID), userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis: room members is_member: %w", err)
	}
	return ok, nil
}

// OnlineUsers implements the online-users set. SREM against this set is
// the serialization point for offline transitions: Remove's boolean
// return reports whether THIS call actually removed the member, letting
// the reaper gate its broadcast on it.
type OnlineUsers struct {
	rdb *goredis.Client
}

func NewOnlineUsers(c *Client) *OnlineUsers {
	return &OnlineUsers{rdb: c.rdb}
}

func (o *OnlineUsers) Add(ctx context.Context, userID uuid.UUID) error {
	if err := o.rdb.SAdd(ctx, onlineUsersKey, userID.String()).Err(); err != nil {
		return fmt.Errorf("redis: online users add: %w", err)
	}
	return nil
}

// Remove returns true only if userID was present and this call removed it —
// the commit point for the user_disconnected emit.
func (o *OnlineUsers) Remove(ctx context.Context, userID uuid.UUID) (bool, error) {
	n, err := o.rdb.SRem(ctx, onlineUsersKey, userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis: online users remove: %w", err)
	}
	return n > 0, nil
}

func (o *OnlineUsers) IsMember(ctx context.Context, userID uuid.UUID) (bool, error) {
	ok, err := o.rdb.SIsMember(ctx, onlineUsersKey, userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("redis: online users is_member: %w", err)
	}
	return ok, nil
}

func (o *OnlineUsers) Members(ctx context.Context) ([]uuid.UUID, error) {
	raw, err := o.rdb.SMembers(ctx, onlineUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: online users: %w", err)
	}
	return parseUUIDs(raw)
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("redis: parse uuid %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
