package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultRelayChannel = "roomchat:broadcasts"

// Relay carries broadcasts between instances. Every published broadcast,
// including this instance's own, comes back through the deliver callback.
type Relay interface {
	Publish(ctx context.Context, b *Broadcast) error
}

type RedisRelay struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
	pubsub  *redis.PubSub
}

func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		log:     logger,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, b *Broadcast) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal broadcast: %w", err)
	}

	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Start subscribes to the relay channel and hands every received broadcast
// to deliver until ctx is cancelled or Close is called.
func (r *RedisRelay) Start(ctx context.Context, deliver func(*Broadcast) error) error {
	r.pubsub = r.client.Subscribe(ctx, r.channel)

	if _, err := r.pubsub.Receive(ctx); err != nil {
		r.pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.log.Info("subscribed to relay channel", zap.String("channel", r.channel))

	go r.listen(ctx, r.pubsub.Channel(), deliver)
	return nil
}

func (r *RedisRelay) listen(ctx context.Context, ch <-chan *redis.Message, deliver func(*Broadcast) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(msg.Payload, deliver)
		}
	}
}

func (r *RedisRelay) handle(payload string, deliver func(*Broadcast) error) {
	var b Broadcast
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		r.log.Warn("dropping malformed relay message", zap.Error(err))
		return
	}

	if err := deliver(&b); err != nil {
		r.log.Warn("failed to deliver relayed broadcast", zap.String("room_id", b.RoomId), zap.Error(err))
	}
}

func (r *RedisRelay) Close() error {
	if r.pubsub == nil {
		return nil
	}
	return r.pubsub.Close()
}
