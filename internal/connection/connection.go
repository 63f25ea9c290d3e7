// Package connection implements the per-client session state machine.
//
// A Connection is driven by a single goroutine running Serve. Inbound
// frames, the authentication deadline, invalidation events and server
// shutdown are all consumed by one select loop, so handlers never run
// concurrently for the same connection.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/luciancaetano/authoritative"
	"github.com/luciancaetano/authoritative/internal/packet"
	"github.com/luciancaetano/authoritative/internal/pubsub"
	"github.com/luciancaetano/authoritative/internal/session"
)

// DefaultAuthTimeout is how long a connection may stay in LOGIN.
const DefaultAuthTimeout = 30 * time.Second

// Device header substrings required in production.
const (
	DeviceApplication = "EchoformMMOGame"
	DeviceRuntime     = "Godot"
)

var (
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New(authoritative.ErrConnectionClosed)
	// ErrNotInLogin is returned by EnterPlay outside the LOGIN state.
	ErrNotInLogin = errors.New("connection is not awaiting authentication")
)

// Inbound is one event read from the socket.
type Inbound struct {
	Data   []byte
	Binary bool
	// Closed reports the socket closed with CloseCode.
	Closed    bool
	CloseCode int
}

// Transport writes to the underlying socket. Implementations must be safe
// for concurrent use and must deliver a Close after every WriteText issued
// before it.
type Transport interface {
	WriteText(ctx context.Context, data []byte) error
	Close(code int, reason string) error
}

// Options configures a Connection.
type Options struct {
	ID        string
	Header    http.Header
	Transport Transport
	Registry  *Registry
	Bus       *pubsub.Bus
	// Production enforces the Device header.
	Production  bool
	AuthTimeout time.Duration
	RateLimit   *RateLimitConfig
	Logger      *slog.Logger
}

// Player is the authenticated identity of a connection in PLAY.
type Player struct {
	User    session.User
	Session session.Session
}

// Connection is the server side of one client connection.
type Connection struct {
	id          string
	header      http.Header
	transport   Transport
	registry    *Registry
	bus         *pubsub.Bus
	production  bool
	authTimeout time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu           sync.RWMutex
	state        State
	user         *session.User
	session      *session.Session
	clientReady  bool
	enforced     map[packet.EnforcedStateName]bool
	authTimer    *time.Timer
	subscription *pubsub.Subscription

	invalidations chan pubsub.AuthInvalidated
	done          chan struct{}
	cleanupOnce   sync.Once
}

// New creates a connection in the BANNER state. Serve starts it.
func New(opts Options) *Connection {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.AuthTimeout
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	header := opts.Header
	if header == nil {
		header = http.Header{}
	}

	return &Connection{
		id:            opts.ID,
		header:        header,
		transport:     opts.Transport,
		registry:      opts.Registry,
		bus:           opts.Bus,
		production:    opts.Production,
		authTimeout:   timeout,
		limiter:       opts.RateLimit.limiter(),
		logger:        logger.With("connID", opts.ID),
		state:         StateBanner,
		enforced:      make(map[packet.EnforcedStateName]bool),
		invalidations: make(chan pubsub.AuthInvalidated, 8),
		done:          make(chan struct{}),
	}
}

// ID returns the connection id sent in the acknowledge packet.
func (c *Connection) ID() string {
	return c.id
}

// Logger returns the connection-scoped logger.
func (c *Connection) Logger() *slog.Logger {
	return c.logger
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the connection reached CLOSED and cleanup ran.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Player returns the authenticated user and session. ok is false unless
// the connection is in PLAY.
func (c *Connection) Player() (Player, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StatePlay || c.user == nil || c.session == nil {
		return Player{}, false
	}
	return Player{User: *c.user, Session: *c.session}, true
}

// ClientReady reports whether the client announced it finished loading.
func (c *Connection) ClientReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientReady
}

// MarkClientReady sets the ready flag. It returns false if the flag was
// already set.
func (c *Connection) MarkClientReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.clientReady {
		return false
	}
	c.clientReady = true
	return true
}

// EnforcedState returns the last value sent for name.
func (c *Connection) EnforcedState(name packet.EnforcedStateName) (value, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok = c.enforced[name]
	return value, ok
}

// SetEnforcedState records value for name and pushes it to the client.
func (c *Connection) SetEnforcedState(ctx context.Context, name packet.EnforcedStateName, value bool) error {
	c.mu.Lock()
	c.enforced[name] = value
	c.mu.Unlock()

	return c.Send(ctx, &packet.SetEnforcedState{Name: name, Value: value})
}

// Send encodes and writes p. It fails with ErrClosed once the connection
// is CLOSED.
func (c *Connection) Send(ctx context.Context, p packet.Clientbound) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	data, err := packet.Encode(p)
	if err != nil {
		return fmt.Errorf("%s %s: %w", authoritative.ErrFailedToEncode, p.Tag(), err)
	}
	return c.transport.WriteText(ctx, data)
}

func (c *Connection) sendError(ctx context.Context, code packet.ErrorCode, message string, fatal bool) {
	if err := c.Send(ctx, &packet.Error{Code: code, Message: message, Fatal: fatal}); err != nil && !errors.Is(err, ErrClosed) {
		c.logger.Warn("failed to send error packet", "code", code, "error", err)
	}
}

// EnterPlay moves an authenticated connection from LOGIN to PLAY, disarms
// the authentication deadline and subscribes to invalidations of the
// user's sessions. The subscription is made before PLAY is committed; if it
// fails the client gets a fatal error and the connection is closed.
func (c *Connection) EnterPlay(ctx context.Context, user session.User, s session.Session) error {
	if c.State() != StateLogin {
		return ErrNotInLogin
	}

	var sub *pubsub.Subscription
	if c.bus != nil {
		var err error
		sub, err = pubsub.OnAuthInvalidated(ctx, c.bus, user.ID, c.queueInvalidation)
		if err != nil {
			c.sendError(ctx, packet.ErrorInternal, authoritative.ErrInternalError, true)
			c.Close(ctx, authoritative.CloseInternalError, authoritative.ReasonInternalError)
			return fmt.Errorf("subscribe to invalidations: %w", err)
		}
	}

	c.mu.Lock()
	if c.state != StateLogin {
		c.mu.Unlock()
		if err := sub.Unsubscribe(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("failed to release invalidation subscription", "error", err)
		}
		return ErrNotInLogin
	}
	c.state = StatePlay
	c.user = &user
	c.session = &s
	c.subscription = sub
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.mu.Unlock()

	c.logger.Info("client authenticated", "userID", user.ID, "sessionID", s.ID)
	return nil
}

// queueInvalidation runs on the bus goroutine and hands the event to Serve.
func (c *Connection) queueInvalidation(ev pubsub.AuthInvalidated) {
	select {
	case c.invalidations <- ev:
	case <-c.done:
	default:
		c.logger.Warn("dropping invalidation, queue full", "sessionID", ev.SessionID)
	}
}

// Close sends a close frame with code and moves to CLOSED. Only the first
// call has an effect.
func (c *Connection) Close(ctx context.Context, code int, reason string) error {
	if !c.transition(StateClosed) {
		return nil
	}
	err := c.transport.Close(code, reason)
	c.cleanup(ctx)
	c.logClose(code, reason, "server")
	return err
}

// closedByClient handles a close frame or a dropped socket.
func (c *Connection) closedByClient(ctx context.Context, code int) {
	if !c.transition(StateClosed) {
		return
	}
	c.cleanup(ctx)
	c.logClose(code, "", "client")
}

// transition sets the state and reports whether it changed. CLOSED is
// terminal.
func (c *Connection) transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed || c.state == to {
		return false
	}
	c.state = to
	return true
}

// cleanup disarms the deadline and releases the subscription, exactly once.
func (c *Connection) cleanup(ctx context.Context) {
	c.cleanupOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		if c.authTimer != nil {
			c.authTimer.Stop()
			c.authTimer = nil
		}
		sub := c.subscription
		c.subscription = nil
		c.mu.Unlock()

		if err := sub.Unsubscribe(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("failed to release invalidation subscription", "error", err)
		}
	})
}

func (c *Connection) logClose(code int, reason, by string) {
	switch code {
	case authoritative.CloseNormal, authoritative.CloseGoingAway:
		c.logger.Info("connection closed", "code", code, "by", by)
	default:
		c.logger.Warn("connection closed", "code", code, "reason", reason, "by", by)
	}
}

// Serve runs the connection until it is CLOSED, the inbound channel is
// closed, or ctx is cancelled. It must be called once.
func (c *Connection) Serve(ctx context.Context, inbound <-chan Inbound) {
	deadline, ok := c.open(ctx)
	if !ok {
		return
	}

	for {
		if c.State() == StateClosed {
			return
		}

		select {
		case <-ctx.Done():
			c.Close(context.WithoutCancel(ctx), authoritative.CloseGoingAway, authoritative.ReasonShuttingDown)
			return

		case <-c.done:
			return

		case <-deadline:
			deadline = nil
			c.authenticationTimedOut(ctx)

		case ev := <-c.invalidations:
			c.invalidated(ctx, ev)

		case in, ok := <-inbound:
			if !ok {
				c.closedByClient(ctx, authoritative.CloseAbnormal)
				return
			}
			if in.Closed {
				c.closedByClient(ctx, in.CloseCode)
				return
			}
			c.receive(ctx, in)
		}
	}
}

// open runs BANNER and LOGIN entry. It returns the deadline channel, nil
// when the connection already authenticated, and false if it was closed.
func (c *Connection) open(ctx context.Context) (<-chan time.Time, bool) {
	c.logger.Info("client connected")

	if c.production && !validDevice(c.header.Get("Device")) {
		c.logger.Warn("rejecting client with invalid device header", "device", c.header.Get("Device"))
		c.sendError(ctx, packet.ErrorUnauthorized, authoritative.ReasonUnauthorized, true)
		c.Close(ctx, authoritative.CloseUnauthorized, authoritative.ReasonUnauthorized)
		return nil, false
	}

	c.transition(StateLogin)
	if err := c.Send(ctx, &packet.Acknowledge{ConnectionID: c.id}); err != nil {
		c.logger.Warn("failed to acknowledge", "error", err)
	}

	if token := bearerToken(c.header.Get("Authorization")); token != "" {
		c.dispatch(ctx, packet.Message{Packet: &packet.ClientDeclaration{AccessToken: token}})
	} else {
		err := c.Send(ctx, &packet.Warning{
			Code:    packet.WarningMissingAccessToken,
			Message: "Missing access token. Please authenticate.",
		})
		if err != nil {
			c.logger.Warn("failed to send warning", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateLogin:
		c.authTimer = time.NewTimer(c.authTimeout)
		return c.authTimer.C, true
	case StateClosed:
		return nil, false
	default:
		return nil, true
	}
}

func (c *Connection) authenticationTimedOut(ctx context.Context) {
	if c.State() != StateLogin {
		return
	}
	c.logger.Info("authentication timed out", "after", c.authTimeout)
	c.sendError(ctx, packet.ErrorAuthenticationTimeout, "Authentication timeout. Please reconnect.", true)
	c.Close(ctx, authoritative.ClosePolicyViolation, authoritative.ReasonAuthenticationTimeout)
}

func (c *Connection) invalidated(ctx context.Context, ev pubsub.AuthInvalidated) {
	player, ok := c.Player()
	if !ok || player.Session.ID != ev.SessionID {
		return
	}
	c.logger.Info("session invalidated", "sessionID", ev.SessionID)
	if err := c.Send(ctx, &packet.Kick{Reason: packet.KickSessionInvalidated}); err != nil {
		c.logger.Warn("failed to send kick", "error", err)
	}
	c.Close(ctx, authoritative.CloseSessionInvalidated, authoritative.ReasonSessionInvalidated)
}

func (c *Connection) receive(ctx context.Context, in Inbound) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warn("rate limit exceeded")
		c.sendError(ctx, packet.ErrorRateLimited, authoritative.ReasonRateLimited, true)
		c.Close(ctx, authoritative.ClosePolicyViolation, authoritative.ReasonRateLimited)
		return
	}

	if in.Binary {
		c.sendError(ctx, packet.ErrorInvalidFormat, authoritative.ErrInvalidMessageFormat, false)
		return
	}

	msg, err := packet.DecodeServerbound(in.Data)
	if err != nil {
		c.logger.Debug("rejecting invalid packet", "error", err)
		c.sendError(ctx, packet.ErrorInvalidFormat, err.Error(), false)
		return
	}
	c.dispatch(ctx, msg)
}

// dispatch runs the registered handler for msg. Handler failures, panics
// included, are logged and reported to the client as a generic error.
func (c *Connection) dispatch(ctx context.Context, msg packet.Message) {
	tag := msg.Tag()
	handle, ok := c.registry.Lookup(tag)
	if !ok {
		c.logger.Debug("no handler for packet", "tag", tag)
		return
	}

	if err := invoke(ctx, handle, msg, c); err != nil {
		c.logger.Error("handler failed", "tag", tag, "error", err)
		if c.State() != StateClosed {
			c.sendError(ctx, packet.ErrorInternal, authoritative.ErrInternalError, false)
		}
	}
}

func invoke(ctx context.Context, handle HandlerFunc, msg packet.Message, c *Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handle(ctx, msg, c)
}

func validDevice(device string) bool {
	return strings.Contains(device, DeviceApplication) && strings.Contains(device, DeviceRuntime)
}

// bearerToken accepts "Bearer <token>" or a bare token.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if strings.EqualFold(header, "bearer") {
		return ""
	}
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
