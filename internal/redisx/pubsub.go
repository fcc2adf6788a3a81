package redisx

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// PubSubMessage is a decoded Pub/Sub delivery.
type PubSubMessage struct {
	Channel string
	Payload string
}

// Subscribe opens a Redis Pub/Sub subscription on the given channels
// using a dedicated client (the listener must never share a connection
// with command traffic, per spec.md §4.8) and fans deliveries into a
// channel that closes when ctx is cancelled.
func Subscribe(ctx context.Context, client *redis.Client, channels ...string) (<-chan PubSubMessage, error) {
	pubsub := client.Subscribe(ctx, channels...)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan PubSubMessage, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- PubSubMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
