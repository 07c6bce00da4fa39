package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

type RedisPublisher struct {
	client redisClient
}

func NewRedisPublisher(address string) (*RedisPublisher, error) {
	if address == "" {
		address = "redis://127.0.0.1:6379"
	}
	options, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisPublisher{client: redis.NewClient(options)}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("redis publisher is nil")
	}
	return p.client.Publish(ctx, subject, payload).Err()
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
