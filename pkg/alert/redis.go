package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/serofero/server/models"
)

// Publisher is the subset of *redis.Client used by the Redis sink.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type redisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink publishes each event as JSON on channel.
func NewRedisSink(client Publisher, channel string) Sink {
	return &redisSink{client: client, channel: channel}
}

func (s *redisSink) Send(ctx context.Context, ev models.SecurityEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}
