package redisstore

import (
	"context"
	"fmt"

	"anoa.com/fellowship/internal/docstore"
	"github.com/redis/go-redis/v9"
)

// Bus fans committed changes out over Redis pub/sub so every process sees
// every commit, whichever process issued it.
type Bus struct {
	client *redis.Client
	prefix string
}

func NewBus(client *redis.Client, prefix string) *Bus {
	return &Bus{client: client, prefix: prefix}
}

func (b *Bus) channel(collection string) string {
	return b.prefix + "feed:" + collection
}

func (b *Bus) Publish(ctx context.Context, changes []docstore.Change) error {
	if len(changes) == 0 {
		return nil
	}
	_, err := b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range changes {
			payload, err := docstore.EncodeChange(c)
			if err != nil {
				return err
			}
			pipe.Publish(ctx, b.channel(c.Key.Collection), payload)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server, so no
// commit published afterwards can be missed.
func (b *Bus) Subscribe(ctx context.Context, collection string) (docstore.Stream, error) {
	ps := b.client.Subscribe(ctx, b.channel(collection))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, unavailable(err)
	}

	feed := docstore.NewFeed(ctx, func(*docstore.Feed) { _ = ps.Close() })
	go relay(ps, feed)
	return feed, nil
}

func relay(ps *redis.PubSub, feed *docstore.Feed) {
	for msg := range ps.ChannelWithSubscriptions() {
		switch m := msg.(type) {
		case *redis.Subscription:
			// go-redis resubscribes silently after a reconnect; anything
			// published while the connection was down is lost.
			if m.Kind == "subscribe" {
				feed.Fail(fmt.Errorf("%w: change stream reconnected", docstore.ErrUnavailable))
				return
			}
		case *redis.Message:
			c, err := docstore.DecodeChange([]byte(m.Payload))
			if err != nil {
				feed.Fail(fmt.Errorf("%w: %v", docstore.ErrUnavailable, err))
				return
			}
			if !feed.Push(c) {
				return
			}
		}
	}
	select {
	case <-feed.Done():
	default:
		feed.Fail(fmt.Errorf("%w: change stream closed", docstore.ErrUnavailable))
	}
}
