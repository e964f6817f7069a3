package pubsub

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/chat-core/config"
)

const RoomExchange = "chat_core.rooms"

// Module wires the Bus Adapter: one AMQP publisher connection and one
// separate subscriber connection per node, both torn down on shutdown
// after the in-flight handlers drain.
var Module = fx.Module("pubsub",
	fx.Provide(
		func(logger *slog.Logger) watermill.LoggerAdapter {
			return watermill.NewSlogLogger(logger)
		},
		func(cfg *config.Config) wmamqp.Config {
			return NewAmqpConfig(cfg.AMQP.URL, RoomExchange)
		},
		NewPublisher,
		NewSubscriber,
		NewEventPublisher,
		NewRoomSubscriber,
	),

	fx.Invoke(func(lc fx.Lifecycle, pub message.Publisher, sub message.Subscriber) {
		lc.Append(fx.StopHook(func() error {
			if err := sub.Close(); err != nil {
				return err
			}
			return pub.Close()
		}))
	}),
)
