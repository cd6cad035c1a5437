package service

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Deliverer pushes a payload to a principal's live clients.
type Deliverer interface {
	Deliver(ctx context.Context, principal string, payload []byte) error
}

// Channel is the pub/sub channel carrying a user's pushes.
func Channel(userID string) string {
	return fmt.Sprintf("user_notifications:%s", userID)
}

// RedisDeliverer publishes pushes on Redis; websocket handlers on any
// instance relay them to connected clients.
type RedisDeliverer struct {
	client *redis.Client
}

func NewRedisDeliverer(client *redis.Client) *RedisDeliverer {
	return &RedisDeliverer{client: client}
}

func (d *RedisDeliverer) Deliver(ctx context.Context, principal string, payload []byte) error {
	return d.client.Publish(ctx, Channel(principal), payload).Err()
}

// Listen subscribes to a principal's pushes. The returned channel is closed
// when ctx ends or the subscription is torn down by stop.
func (d *RedisDeliverer) Listen(ctx context.Context, principal string) (<-chan *redis.Message, func() error, error) {
	pubsub := d.client.Subscribe(ctx, Channel(principal))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", Channel(principal), err)
	}
	return pubsub.Channel(), pubsub.Close, nil
}
