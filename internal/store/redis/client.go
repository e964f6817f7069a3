// Package redis is the KV Adapter: typed access to the shared
// fast store — lists for the message cache, sets for room membership and
// online users, a hash for presence records, and TTL keys for heartbeats
// and sessions. Every multi-command sequence that must stay atomic runs as
// one pipeline; nothing here retries — the relational store stays the
// source of truth and the next reader repopulates.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Default TTLs, overridable via config.
const (
	MessageCacheTTL = 24 * time.Hour
	HeartbeatTTL    = 30 * time.Second
	SessionTTL      = time.Hour
)

// Client wraps the node's single multiplexed connection.
type Client struct {
	rdb *goredis.Client
}

func NewClient(addr, password string, db int) *Client {
	return &Client{rdb: goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
