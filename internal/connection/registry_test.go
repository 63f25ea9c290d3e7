package connection

import (
	"context"
	"strings"
	"testing"

	"github.com/luciancaetano/authoritative/internal/packet"
)

func noop(ctx context.Context, msg packet.Message, c *Connection) error { return nil }

func TestNewRegistry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		defs    []Definition
		wantErr string
		wantLen int
	}{
		{
			name:    "empty",
			wantLen: 0,
		},
		{
			name: "serverbound tags",
			defs: []Definition{
				{Tag: packet.TagClientDeclaration, Handle: noop},
				{Tag: packet.TagClientReady, Handle: noop},
			},
			wantLen: 2,
		},
		{
			name: "duplicate tag",
			defs: []Definition{
				{Tag: packet.TagClientReady, Handle: noop},
				{Tag: packet.TagClientReady, Handle: noop},
			},
			wantErr: "duplicate handler",
		},
		{
			name:    "clientbound tag",
			defs:    []Definition{{Tag: packet.TagWelcome, Handle: noop}},
			wantErr: "not a serverbound packet",
		},
		{
			name:    "unknown tag",
			defs:    []Definition{{Tag: "teleport", Handle: noop}},
			wantErr: "not a serverbound packet",
		},
		{
			name:    "nil handler",
			defs:    []Definition{{Tag: packet.TagClientReady}},
			wantErr: "nil handler",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg, err := NewRegistry(tt.defs...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewRegistry() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRegistry() error = %v", err)
			}
			if reg.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", reg.Len(), tt.wantLen)
			}
			for _, def := range tt.defs {
				if _, ok := reg.Lookup(def.Tag); !ok {
					t.Errorf("Lookup(%q) missing", def.Tag)
				}
			}
		})
	}
}

func TestNilRegistryLookup(t *testing.T) {
	t.Parallel()

	var reg *Registry
	if _, ok := reg.Lookup(packet.TagClientReady); ok {
		t.Error("nil registry returned a handler")
	}
	if reg.Len() != 0 {
		t.Error("nil registry has handlers")
	}
}
