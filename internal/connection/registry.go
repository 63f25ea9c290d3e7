package connection

import (
	"context"
	"fmt"

	"github.com/luciancaetano/authoritative/internal/packet"
)

// HandlerFunc handles one validated serverbound packet. It runs on the
// connection's goroutine; no other packet of the same connection is
// processed until it returns.
type HandlerFunc func(ctx context.Context, msg packet.Message, c *Connection) error

// Definition binds a handler to the tag it handles.
type Definition struct {
	Tag    packet.Tag
	Handle HandlerFunc
}

// Registry maps serverbound tags to handlers. It is immutable once built
// and may be shared by every connection.
type Registry struct {
	handlers map[packet.Tag]HandlerFunc
}

// NewRegistry builds a registry, rejecting duplicate, unknown or nil entries.
func NewRegistry(defs ...Definition) (*Registry, error) {
	handlers := make(map[packet.Tag]HandlerFunc, len(defs))
	for _, def := range defs {
		if !packet.IsServerbound(def.Tag) {
			return nil, fmt.Errorf("register handler: %q is not a serverbound packet", def.Tag)
		}
		if def.Handle == nil {
			return nil, fmt.Errorf("register handler: nil handler for %q", def.Tag)
		}
		if _, ok := handlers[def.Tag]; ok {
			return nil, fmt.Errorf("register handler: duplicate handler for %q", def.Tag)
		}
		handlers[def.Tag] = def.Handle
	}
	return &Registry{handlers: handlers}, nil
}

// Lookup returns the handler for tag.
func (r *Registry) Lookup(tag packet.Tag) (HandlerFunc, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[tag]
	return h, ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}
