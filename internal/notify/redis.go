package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/rolodex/internal/contact"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "rolodex:changes"

// RedisSink publishes change sets as JSON on a redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to redisURL and checks the connection.
func NewRedisSink(redisURL, channel string) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisSinkWithClient(client, channel), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Channel returns the channel change sets are published on.
func (s *RedisSink) Channel() string {
	return s.channel
}

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, cs contact.ChangeSet) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("encode change set: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change set %s: %w", cs.ID, err)
	}
	return nil
}

// Close closes the redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
