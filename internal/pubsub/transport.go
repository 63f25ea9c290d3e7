package pubsub

import (
	"context"
	"errors"
	"sync"
)

// ErrTransportClosed is returned by operations on a closed transport.
var ErrTransportClosed = errors.New("pubsub: transport closed")

// Message is a raw payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Transport is the underlying publish/subscribe connection shared by a Bus.
//
// A transport multiplexes every subscribed channel over a single subscriber
// connection, so Messages may deliver payloads for any channel it is
// subscribed to.
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Messages() <-chan Message
	Close() error
}

// MemoryTransport is an in-process Transport for single-node deployments
// and tests. Publishing delivers only to channels subscribed on the same
// transport. The Messages channel is never closed.
type MemoryTransport struct {
	mu       sync.RWMutex
	channels map[string]bool
	messages chan Message
	done     chan struct{}
	closed   bool
}

var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates an in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		channels: make(map[string]bool),
		messages: make(chan Message, 256),
		done:     make(chan struct{}),
	}
}

func (m *MemoryTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	closed, subscribed := m.closed, m.channels[channel]
	m.mu.RUnlock()

	if closed {
		return ErrTransportClosed
	}
	if !subscribed {
		return nil
	}

	select {
	case m.messages <- Message{Channel: channel, Payload: payload}:
		return nil
	case <-m.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MemoryTransport) Subscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTransportClosed
	}
	m.channels[channel] = true
	return nil
}

func (m *MemoryTransport) Unsubscribe(ctx context.Context, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrTransportClosed
	}
	delete(m.channels, channel)
	return nil
}

func (m *MemoryTransport) Messages() <-chan Message {
	return m.messages
}

func (m *MemoryTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	return nil
}
