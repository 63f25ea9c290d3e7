package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/luciancaetano/authoritative/internal/packet"
	"github.com/luciancaetano/authoritative/internal/pubsub"
	"github.com/luciancaetano/authoritative/internal/session"
)

const waitTimeout = 2 * time.Second

// fakeTransport records frames and close calls in order.
type fakeTransport struct {
	frames chan []byte
	closes chan int

	mu     sync.Mutex
	closed int
	reason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan []byte, 64),
		closes: make(chan int, 4),
	}
}

func (f *fakeTransport) WriteText(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return errors.New("write after close")
	}
	f.frames <- data
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.reason = reason
	f.closes <- code
	return nil
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type harness struct {
	conn      *Connection
	transport *fakeTransport
	bus       *pubsub.Bus
	inbound   chan Inbound
	cancel    context.CancelFunc
	served    chan struct{}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// start runs a connection with opts. Transport, Bus, ID and Logger are
// filled in when empty.
func start(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		inbound:   make(chan Inbound, 16),
		served:    make(chan struct{}),
	}
	if opts.ID == "" {
		opts.ID = "conn-1"
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Bus == nil {
		opts.Bus = pubsub.New("test", pubsub.NewMemoryTransport(), opts.Logger)
	}
	h.bus = opts.Bus
	opts.Transport = h.transport
	h.conn = New(opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.served)
		h.conn.Serve(ctx, h.inbound)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.served:
		case <-time.After(waitTimeout):
			t.Error("Serve did not return")
		}
		h.bus.Close()
	})
	return h
}

func (h *harness) send(raw string) {
	h.inbound <- Inbound{Data: []byte(raw)}
}

// next decodes the next frame written by the connection.
func (h *harness) next(t *testing.T) packet.Clientbound {
	t.Helper()

	select {
	case raw := <-h.transport.frames:
		p, err := packet.DecodeClientbound(raw)
		if err != nil {
			t.Fatalf("connection wrote invalid packet %s: %v", raw, err)
		}
		return p
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func (h *harness) nextError(t *testing.T) *packet.Error {
	t.Helper()

	p := h.next(t)
	e, ok := p.(*packet.Error)
	if !ok {
		t.Fatalf("got %s packet, want error", p.Tag())
	}
	return e
}

func (h *harness) expectNoPacket(t *testing.T, within time.Duration) {
	t.Helper()

	select {
	case raw := <-h.transport.frames:
		t.Fatalf("unexpected packet %s", raw)
	case <-time.After(within):
	}
}

func (h *harness) expectClose(t *testing.T, want int) {
	t.Helper()

	select {
	case code := <-h.transport.closes:
		if code != want {
			t.Fatalf("close code = %d, want %d", code, want)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for close %d", want)
	}
}

func (h *harness) waitServed(t *testing.T) {
	t.Helper()

	select {
	case <-h.served:
	case <-time.After(waitTimeout):
		t.Fatal("Serve did not return")
	}
}

// loginRegistry authenticates every client_declaration as user/sess.
func loginRegistry(t *testing.T, user session.User, sess session.Session) *Registry {
	t.Helper()

	reg, err := NewRegistry(Definition{
		Tag: packet.TagClientDeclaration,
		Handle: func(ctx context.Context, msg packet.Message, c *Connection) error {
			if err := c.EnterPlay(ctx, user, sess); err != nil {
				return err
			}
			return c.Send(ctx, &packet.Welcome{
				ServerVersion: "test",
				Environment:   packet.EnvironmentDevelopment,
				FeatureFlags:  []packet.FeatureFlag{},
			})
		},
	})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
