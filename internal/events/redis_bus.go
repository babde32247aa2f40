package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus implements Bus using Redis Pub/Sub so every relay node sees every event.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBus(client *redis.Client, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, patterns []string, handler func(channel string, payload []byte)) error {
	sub := b.client.PSubscribe(ctx, patterns...)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("redis subscription failed: %w", err)
		}
		handler(msg.Channel, []byte(msg.Payload))
	}
}
