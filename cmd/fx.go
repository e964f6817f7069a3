package cmd

import (
	"go.uber.org/fx"

	"github.com/webitel/chat-core/config"
	httpsrv "github.com/webitel/chat-core/infra/server/http"
	"github.com/webitel/chat-core/internal/adapter/pubsub"
	"github.com/webitel/chat-core/internal/router"
	"github.com/webitel/chat-core/internal/store/postgres"
	"github.com/webitel/chat-core/internal/store/redis"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,

			// Durable and fast stores.
			ProvidePostgres,
			postgres.NewUserStore,
			postgres.NewRoomStore,
			postgres.NewMembershipStore,
			postgres.NewMessageStore,
			ProvideRedis,
			ProvideMessageCache,
			ProvideHeartbeats,
			redis.NewRoomMembers,
			redis.NewOnlineUsers,
			redis.NewPresenceHash,
			redis.NewSessionKeys,

			// Core engines.
			ProvideDirectory,
			ProvidePresenceEngine,
			ProvidePipeline,
			ProvideRegistry,
			func(r *router.Registry) router.Registrar { return r },
			ProvideRouter,

			// Transports and external surface.
			ProvideTokens,
			ProvideWSHandler,
			ProvideLPHandler,
			ProvideRestAPI,
		),
		pubsub.Module,
		httpsrv.Module,
		fx.Invoke(ProvideReaper),
	)
}
