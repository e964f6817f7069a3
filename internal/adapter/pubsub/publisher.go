// Package pubsub is the Bus Adapter: publish event E to room
// R, and subscribe this process to room R. It is built on watermill with
// the AMQP binding, topic-keyed on "room.<room_id>" so a node subscribes
// implicitly by room membership rather than tracking per-room
// subscriptions itself.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/chat-core/internal/domain/event"
)

// NewAmqpConfig builds a durable topic-exchange config where the routing
// key equals the watermill topic, i.e. event.RoutingKey(roomID).
func NewAmqpConfig(uri, exchange string) wmamqp.Config {
	cfg := wmamqp.NewDurablePubSubConfig(uri, func(topic string) string { return exchange })
	cfg.Exchange.Type = "topic"
	cfg.Exchange.GenerateName = func(topic string) string { return exchange }
	cfg.Queue.GenerateName = wmamqp.GenerateQueueNameTopologyTopic
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}

// NewPublisher opens a watermill-amqp publisher against the exchange.
func NewPublisher(cfg wmamqp.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmamqp.NewPublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new publisher: %w", err)
	}
	return pub, nil
}

// NewSubscriber opens a watermill-amqp subscriber. Each node gets its own
// queue, bound per-topic by whatever calls Subscribe on it.
func NewSubscriber(cfg wmamqp.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sub, err := wmamqp.NewSubscriber(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new subscriber: %w", err)
	}
	return sub, nil
}

// EventPublisher is the contract the Router and Message Pipeline use to
// re-publish a local event so every other node's registry observes it
// too. Publish failures are logged and returned to the caller; broadcasts
// are never retried.
type EventPublisher interface {
	Publish(ctx context.Context, ev event.Eventer) error
}

type eventPublisher struct {
	pub    message.Publisher
	logger *slog.Logger
}

func NewEventPublisher(pub message.Publisher, logger *slog.Logger) EventPublisher {
	return &eventPublisher{pub: pub, logger: logger}
}

func (d *eventPublisher) Publish(ctx context.Context, ev event.Eventer) error {
	exportable, ok := ev.(event.Exportable)
	if !ok {
		return fmt.Errorf("pubsub: event %T is not exportable", ev)
	}

	envelope, err := event.Encode(ev)
	if err != nil {
		return fmt.Errorf("pubsub: encode event: %w", err)
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("pubsub: marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	routingKey := exportable.GetRoutingKey()
	if err := d.pub.Publish(routingKey, msg); err != nil {
		d.logger.Error("publish failed", "routing_key", routingKey, "event_id", ev.GetID(), "err", err)
		return fmt.Errorf("pubsub: publish to %s: %w", routingKey, err)
	}
	return nil
}
