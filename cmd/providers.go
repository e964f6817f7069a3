package cmd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"

	"github.com/webitel/chat-core/config"
	"github.com/webitel/chat-core/internal/adapter/pubsub"
	"github.com/webitel/chat-core/internal/auth"
	"github.com/webitel/chat-core/internal/directory"
	lphandler "github.com/webitel/chat-core/internal/handler/lp"
	wshandler "github.com/webitel/chat-core/internal/handler/ws"
	"github.com/webitel/chat-core/internal/pipeline"
	"github.com/webitel/chat-core/internal/presence"
	"github.com/webitel/chat-core/internal/rest"
	"github.com/webitel/chat-core/internal/router"
	"github.com/webitel/chat-core/internal/store/postgres"
	"github.com/webitel/chat-core/internal/store/redis"
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.ServiceName)
}

func ProvidePostgres(lc fx.Lifecycle, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(context.Background(), postgres.Config{
		URL:         cfg.DB.DSN,
		MaxConns:    cfg.DB.MaxConns,
		MinConns:    cfg.DB.MinConns,
		HealthCheck: 30 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(pool.Close))
	return pool, nil
}

func ProvideRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

func ProvideTokens(cfg *config.Config) *auth.TokenIssuer {
	return auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.ServiceName)
}

func ProvideMessageCache(c *redis.Client, cfg *config.Config) *redis.MessageCache {
	return redis.NewMessageCache(c, cfg.Cache.RecentSize, cfg.Cache.TTL)
}

func ProvideHeartbeats(c *redis.Client, cfg *config.Config) *redis.HeartbeatKeys {
	return redis.NewHeartbeatKeys(c, cfg.Presence.HeartbeatTTL)
}

func ProvideDirectory(users *postgres.UserStore) *directory.Directory {
	return directory.NewDirectory(users)
}

func ProvidePipeline(
	msgs *postgres.MessageStore,
	cache *redis.MessageCache,
	bus pubsub.EventPublisher,
	logger *slog.Logger,
) *pipeline.Pipeline {
	return pipeline.NewPipeline(msgs, cache, bus, logger)
}

func ProvidePresenceEngine(
	online *redis.OnlineUsers,
	records *redis.PresenceHash,
	heartbeats *redis.HeartbeatKeys,
	members *redis.RoomMembers,
	memberships *postgres.MembershipStore,
	bus pubsub.EventPublisher,
	names *directory.Directory,
	cfg *config.Config,
	logger *slog.Logger,
) *presence.Engine {
	return presence.NewEngine(online, records, heartbeats, members, memberships, bus, logger,
		presence.WithReapInterval(cfg.Presence.ReapInterval),
		presence.WithStaleThreshold(cfg.Presence.StaleThreshold),
		presence.WithNameResolver(names),
	)
}

func ProvideReaper(lc fx.Lifecycle, engine *presence.Engine) *presence.Reaper {
	reaper := presence.NewReaper(engine)
	runCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go reaper.Run(runCtx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return reaper
}

func ProvideRegistry(lc fx.Lifecycle, logger *slog.Logger) *router.Registry {
	registry := router.NewRegistry(logger)
	lc.Append(fx.StopHook(registry.Shutdown))
	return registry
}

func ProvideRouter(
	registry *router.Registry,
	engine *presence.Engine,
	pl *pipeline.Pipeline,
	rooms *postgres.RoomStore,
	memberships *postgres.MembershipStore,
	bus pubsub.EventPublisher,
	busSub *pubsub.RoomSubscriber,
	sessions *redis.SessionKeys,
	logger *slog.Logger,
) *router.Router {
	return router.NewRouter(registry, engine, pl, rooms, memberships, bus, busSub, logger,
		router.WithSessionTracker(sessions))
}

func ProvideWSHandler(logger *slog.Logger, rt *router.Router, tokens *auth.TokenIssuer, cfg *config.Config) *wshandler.WSHandler {
	return wshandler.NewWSHandler(logger, rt, tokens, cfg.HTTP.AllowedOrigins)
}

func ProvideLPHandler(logger *slog.Logger, rt *router.Router, tokens *auth.TokenIssuer) *lphandler.LPHandler {
	return lphandler.NewLPHandler(logger, rt, tokens)
}

func ProvideRestAPI(
	users *postgres.UserStore,
	rooms *postgres.RoomStore,
	memberships *postgres.MembershipStore,
	tokens *auth.TokenIssuer,
	cfg *config.Config,
	logger *slog.Logger,
) *rest.API {
	return rest.NewAPI(users, rooms, memberships, tokens, logger, cfg.Auth.RateLimitPerMin)
}
