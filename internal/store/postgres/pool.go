// Package postgres is the DB Adapter: parameterized reads/writes
// for users, rooms, memberships and messages, with cursor pagination by
// timestamp. The relational store is the single source of truth for
// everything it owns; the KV adapter only ever caches it.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config bounds the pool: a fixed ceiling of connections shared by every
// handler rather than one connection per goroutine.
type Config struct {
	URL         string
	MaxConns    int32
	MinConns    int32
	HealthCheck time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:         url,
		MaxConns:    20,
		MinConns:    2,
		HealthCheck: 30 * time.Second,
	}
}

// NewPool opens a pgxpool.Pool and verifies connectivity with a Ping.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}
