package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events as JSON on a pub/sub channel. Branch
// scoped copies go to "{channel}.{branchID}" so consumers can subscribe
// narrowly.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisPublisher(ctx context.Context, redisURL, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisPublisherWithClient(client, channel), nil
}

func NewRedisPublisherWithClient(client redis.UniversalClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = "qms.tokens"
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, payload)
	if event.BranchID != "" {
		pipe.Publish(ctx, BranchChannel(p.channel, event.BranchID), payload)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func BranchChannel(channel, branchID string) string {
	return channel + "." + branchID
}
