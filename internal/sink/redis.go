package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/north-cloud/capture-ingest/internal/domain"
)

// DefaultRedisChannel is the pub/sub channel captures are published on.
const DefaultRedisChannel = "captures"

// RedisSink publishes each capture as JSON on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink creates a RedisSink. The caller owns client.
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Name implements dispatcher.Consumer.
func (s *RedisSink) Name() string { return "redis" }

// Consume implements dispatcher.Consumer.
func (s *RedisSink) Consume(ctx context.Context, item domain.QueueItem) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal capture: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", s.channel, err)
	}
	return nil
}

// Close implements Sink.
func (s *RedisSink) Close() error { return nil }
