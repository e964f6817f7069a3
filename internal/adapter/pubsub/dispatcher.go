package pubsub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/webitel/chat-core/internal/domain/event"
	"github.com/webitel/chat-core/internal/router"
)

// RoomSubscriber binds a room topic to a watermill subscriber and feeds
// decoded events into the local room registry; a node subscribes
// implicitly by membership in the room's socket set. Callers
// subscribe a room the first time a local session joins it and let the
// subscription run for the process lifetime; unsubscribing is left to
// process shutdown rather than tracked per-room, since AMQP queue teardown
// on last-leave would race the next join.
type RoomSubscriber struct {
	sub      message.Subscriber
	registry router.Registrar
	logger   *slog.Logger
}

func NewRoomSubscriber(sub message.Subscriber, registry router.Registrar, logger *slog.Logger) *RoomSubscriber {
	return &RoomSubscriber{sub: sub, registry: registry, logger: logger}
}

// Subscribe starts consuming the topic for roomID until ctx is canceled.
// It is safe to call once per room per process; calling it twice for the
// same room opens a second independent subscription.
func (r *RoomSubscriber) Subscribe(ctx context.Context, roomID uuid.UUID) error {
	topic := event.RoutingKey(roomID)
	messages, err := r.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}
	go r.consume(ctx, topic, messages)
	return nil
}

func (r *RoomSubscriber) consume(ctx context.Context, topic string, messages <-chan *message.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			r.handle(topic, msg)
		}
	}
}

func (r *RoomSubscriber) handle(topic string, msg *message.Message) {
	// Always ack: delivery is at-most-once, a poison message must not
	// wedge the room's queue, and losing one transient fan-out beats a
	// redelivery loop.
	defer msg.Ack()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("consume panic recovered", "topic", topic, "msg_id", msg.UUID, "panic", rec)
		}
	}()

	var envelope event.WireEnvelope
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		r.logger.Error("decode envelope failed", "topic", topic, "err", err)
		return
	}
	ev, err := envelope.Decode()
	if err != nil {
		r.logger.Error("decode event failed", "topic", topic, "err", err)
		return
	}
	r.registry.Broadcast(ev)
}
