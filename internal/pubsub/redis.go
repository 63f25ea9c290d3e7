package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport multiplexes every channel over a single Redis (or Valkey)
// subscriber connection.
type RedisTransport struct {
	client   *redis.Client
	sub      *redis.PubSub
	messages chan Message
	done     chan struct{}
	once     sync.Once
}

var _ Transport = (*RedisTransport)(nil)

// NewRedisTransport opens the shared subscriber connection on client.
func NewRedisTransport(ctx context.Context, client *redis.Client) *RedisTransport {
	t := &RedisTransport{
		client:   client,
		sub:      client.Subscribe(ctx),
		messages: make(chan Message, 256),
		done:     make(chan struct{}),
	}
	go t.forward()
	return t
}

// forward copies messages off the go-redis channel until the subscriber closes.
func (t *RedisTransport) forward() {
	defer close(t.messages)

	for msg := range t.sub.Channel() {
		select {
		case t.messages <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
		case <-t.done:
			return
		}
	}
}

func (t *RedisTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) Subscribe(ctx context.Context, channel string) error {
	if err := t.sub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) Unsubscribe(ctx context.Context, channel string) error {
	if err := t.sub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("redis unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (t *RedisTransport) Messages() <-chan Message {
	return t.messages
}

// Close closes the subscriber connection. The publishing client is owned by
// the caller and left open.
func (t *RedisTransport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = t.sub.Close()
	})
	return err
}
