package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/target/meeting-processor/internal/core"
)

// RedisStatusChannel publishes and subscribes to status updates with Redis pub/sub.
type RedisStatusChannel struct {
	client redis.UniversalClient
}

var (
	_ core.StatusPublisher  = (*RedisStatusChannel)(nil)
	_ core.StatusSubscriber = (*RedisStatusChannel)(nil)
)

// NewRedisStatusChannel creates a RedisStatusChannel with the given Redis client.
func NewRedisStatusChannel(client redis.UniversalClient) *RedisStatusChannel {
	return &RedisStatusChannel{client: client}
}

// Publish sends payload to every current subscriber of topic.
func (c *RedisStatusChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return errors.New("topic cannot be empty")
	}
	if err := c.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe opens a subscription and waits for Redis to confirm it.
func (c *RedisStatusChannel) Subscribe(ctx context.Context, topic string) (core.StatusSubscription, error) {
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}

	ps := c.client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}
	return &redisSubscription{ps: ps}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
}

func (s *redisSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (s *redisSubscription) Close() error {
	return s.ps.Close()
}
