// Package pubsub adapts a publish/subscribe transport into typed domain
// messages on channels named "{environment}:{topic}:{key}".
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// Topic is the middle segment of a channel name.
type Topic string

// Bus multiplexes local callbacks over one shared Transport.
//
// Any number of local subscriptions may exist for the same channel; the
// transport is subscribed once per channel and unsubscribed when the last
// local subscription is released.
type Bus struct {
	environment string
	transport   Transport
	logger      *slog.Logger

	mu     sync.Mutex
	subs   map[string]map[uint64]func([]byte)
	nextID uint64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a bus and starts delivering messages from transport.
func New(environment string, transport Transport, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		environment: environment,
		transport:   transport,
		logger:      logger.With("component", "pubsub"),
		subs:        make(map[string]map[uint64]func([]byte)),
		done:        make(chan struct{}),
	}

	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Channel returns the channel name for topic and key.
func (b *Bus) Channel(topic Topic, key string) string {
	return fmt.Sprintf("%s:%s:%s", b.environment, topic, key)
}

// Publish JSON-encodes v and publishes it on the channel for topic and key.
func (b *Bus) Publish(ctx context.Context, topic Topic, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("pubsub: encode %s: %w", topic, err)
	}
	return b.transport.Publish(ctx, b.Channel(topic, key), payload)
}

// Subscribe registers fn for every message on the channel for topic and key.
// fn runs on the bus delivery goroutine and must not block.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, key string, fn func(payload []byte)) (*Subscription, error) {
	channel := b.Channel(topic, key)

	b.mu.Lock()
	defer b.mu.Unlock()

	callbacks, ok := b.subs[channel]
	if !ok {
		if err := b.transport.Subscribe(ctx, channel); err != nil {
			return nil, err
		}
		callbacks = make(map[uint64]func([]byte))
		b.subs[channel] = callbacks
	}

	b.nextID++
	id := b.nextID
	callbacks[id] = fn

	return &Subscription{
		channel: channel,
		release: func(ctx context.Context) error {
			return b.release(ctx, channel, id)
		},
	}, nil
}

// Subscribers returns the number of local subscriptions on channel.
func (b *Bus) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}

func (b *Bus) release(ctx context.Context, channel string, id uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	callbacks, ok := b.subs[channel]
	if !ok {
		return nil
	}
	delete(callbacks, id)
	if len(callbacks) > 0 {
		return nil
	}

	delete(b.subs, channel)
	return b.transport.Unsubscribe(ctx, channel)
}

// dispatch delivers transport messages to callbacks registered on the exact
// channel. Callbacks run outside the lock.
func (b *Bus) dispatch() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case msg, ok := <-b.transport.Messages():
			if !ok {
				return
			}

			b.mu.Lock()
			callbacks := make([]func([]byte), 0, len(b.subs[msg.Channel]))
			for _, fn := range b.subs[msg.Channel] {
				callbacks = append(callbacks, fn)
			}
			b.mu.Unlock()

			if len(callbacks) == 0 {
				b.logger.Debug("dropping message for unsubscribed channel", "channel", msg.Channel)
				continue
			}
			for _, fn := range callbacks {
				fn(msg.Payload)
			}
		}
	}
}

// Close stops delivery and closes the transport.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.transport.Close()
		b.wg.Wait()
	})
	return err
}

// Subscription is a single-use handle releasing one Subscribe registration.
type Subscription struct {
	channel string
	release func(ctx context.Context) error
	once    sync.Once
}

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string {
	return s.channel
}

// Unsubscribe releases the subscription. Only the first call has an effect;
// later calls return nil.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		err = s.release(ctx)
	})
	return err
}

// On subscribes fn to JSON messages of type T. Payloads that fail to decode
// are logged and dropped.
func On[T any](ctx context.Context, b *Bus, topic Topic, key string, fn func(T)) (*Subscription, error) {
	return b.Subscribe(ctx, topic, key, func(payload []byte) {
		var msg T
		if err := json.Unmarshal(payload, &msg); err != nil {
			b.logger.Warn("dropping undecodable message", "topic", topic, "key", key, "error", err)
			return
		}
		fn(msg)
	})
}
