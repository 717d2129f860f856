package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel ledger events go to.
const DefaultChannel = "ledger_events"

// RedisPublisher publishes JSON events on a pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher publishes on channel, or DefaultChannel when empty.
// The client is owned by the caller.
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := encode(e)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return nil }
