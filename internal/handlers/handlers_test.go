package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/luciancaetano/authoritative"
	"github.com/luciancaetano/authoritative/internal/connection"
	"github.com/luciancaetano/authoritative/internal/packet"
	"github.com/luciancaetano/authoritative/internal/pubsub"
	"github.com/luciancaetano/authoritative/internal/session"
	"github.com/luciancaetano/authoritative/internal/session/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var now = time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	frames chan []byte
	closes chan int
}

func (r *recorder) WriteText(ctx context.Context, data []byte) error {
	r.frames <- data
	return nil
}

func (r *recorder) Close(code int, reason string) error {
	r.closes <- code
	return nil
}

type env struct {
	store  *memory.Store
	bus    *pubsub.Bus
	issuer *session.Issuer
	reg    *connection.Registry
	logger *slog.Logger
}

func newEnv(t *testing.T, environment string) *env {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	bus := pubsub.New("test", pubsub.NewMemoryTransport(), logger)
	t.Cleanup(func() { bus.Close() })

	reg, err := New(Deps{
		Store:         store,
		ServerVersion: "1.2.3",
		Environment:   environment,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &env{
		store:  store,
		bus:    bus,
		issuer: session.NewIssuer(store, bus, logger, func() time.Time { return now }),
		reg:    reg,
		logger: logger,
	}
}

// login creates a user and issues it a session.
func (e *env) login(t *testing.T, name string) (session.User, session.Session) {
	t.Helper()

	ctx := context.Background()
	user, err := e.store.UserByName(ctx, name)
	if err != nil {
		user, err = e.store.CreateUser(ctx, name)
		if err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	s, err := e.issuer.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	return user, s
}

type client struct {
	conn    *connection.Connection
	rec     *recorder
	inbound chan connection.Inbound
}

func (e *env) connect(t *testing.T, token string) *client {
	t.Helper()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	c := &client{
		rec:     &recorder{frames: make(chan []byte, 32), closes: make(chan int, 2)},
		inbound: make(chan connection.Inbound, 8),
	}
	c.conn = connection.New(connection.Options{
		ID:          "conn-" + token,
		Header:      header,
		Transport:   c.rec,
		Registry:    e.reg,
		Bus:         e.bus,
		AuthTimeout: time.Minute,
		Logger:      e.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		c.conn.Serve(ctx, c.inbound)
	}()
	t.Cleanup(func() {
		cancel()
		<-served
	})
	return c
}

func (c *client) next(t *testing.T) packet.Clientbound {
	t.Helper()

	select {
	case raw := <-c.rec.frames:
		p, err := packet.DecodeClientbound(raw)
		if err != nil {
			t.Fatalf("invalid packet %s: %v", raw, err)
		}
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
		return nil
	}
}

func (c *client) expectNone(t *testing.T) {
	t.Helper()

	select {
	case raw := <-c.rec.frames:
		t.Fatalf("unexpected packet %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *client) send(raw string) {
	c.inbound <- connection.Inbound{Data: []byte(raw)}
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestDeclarationWelcomesValidToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		environment string
		wantEnv     packet.Environment
		wantFlags   []packet.FeatureFlag
	}{
		{
			name:        "development",
			environment: "development",
			wantEnv:     packet.EnvironmentDevelopment,
			wantFlags:   []packet.FeatureFlag{packet.FeatureExperimental, packet.FeatureDebugMode},
		},
		{
			name:        "test reports development",
			environment: "test",
			wantEnv:     packet.EnvironmentDevelopment,
			wantFlags:   []packet.FeatureFlag{packet.FeatureExperimental, packet.FeatureDebugMode},
		},
		{
			name:        "production",
			environment: "production",
			wantEnv:     packet.EnvironmentProduction,
			wantFlags:   []packet.FeatureFlag{},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newEnv(t, tt.environment)
			user, s := e.login(t, "alice")
			c := e.connect(t, s.AccessToken)

			if _, ok := c.next(t).(*packet.Acknowledge); !ok {
				t.Fatal("expected acknowledge")
			}
			welcome, ok := c.next(t).(*packet.Welcome)
			if !ok {
				t.Fatal("expected welcome")
			}
			if welcome.ServerVersion != "1.2.3" || welcome.Environment != tt.wantEnv {
				t.Errorf("welcome = %+v", welcome)
			}
			if !slices.Equal(welcome.FeatureFlags, tt.wantFlags) {
				t.Errorf("feature flags = %v, want %v", welcome.FeatureFlags, tt.wantFlags)
			}

			player, ok := c.conn.Player()
			if !ok || player.User.ID != user.ID || player.Session.ID != s.ID {
				t.Errorf("Player() = %+v, %v", player, ok)
			}
		})
	}
}

func TestDeclarationRejections(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "development")
	user, err := e.store.CreateUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	expired, _, err := e.store.ReplaceSessions(context.Background(), session.Session{
		UserID:       user.ID,
		AccessToken:  "expired_token_aaaaaaaaaaaaaaaaaa",
		RefreshToken: "refresh",
		ExpiresAt:    now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("ReplaceSessions() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
		code  packet.ErrorCode
	}{
		{name: "unknown token", token: "unknown_token_aaaaaaaaaaaaaaaaaa", code: packet.ErrorInvalidAccessToken},
		{name: "expired token", token: expired.AccessToken, code: packet.ErrorSessionExpired},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c := e.connect(t, tt.token)
			c.next(t) // acknowledge

			got, ok := c.next(t).(*packet.Error)
			if !ok || got.Code != tt.code || got.Fatal {
				t.Fatalf("packet = %+v, want non-fatal %s", got, tt.code)
			}
			if state := c.conn.State(); state != connection.StateLogin {
				t.Errorf("State() = %v, want LOGIN", state)
			}
		})
	}
}

func TestReadyStartsIntroForNewUsers(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "development")
	_, s := e.login(t, "carol")
	c := e.connect(t, s.AccessToken)
	c.next(t) // acknowledge
	c.next(t) // welcome

	c.send(`{"id":"client_ready","data":null}`)

	enforced, ok := c.next(t).(*packet.SetEnforcedState)
	if !ok || enforced.Name != packet.EnforcedCanHome || enforced.Value {
		t.Fatalf("packet = %+v, want can_home=false", enforced)
	}
	scene, ok := c.next(t).(*packet.ForceScene)
	if !ok || scene.Scene != packet.SceneIntro {
		t.Fatalf("packet = %+v, want intro scene", scene)
	}
	if !c.conn.ClientReady() {
		t.Error("ClientReady() = false")
	}

	c.send(`{"id":"client_ready"}`)
	dup, ok := c.next(t).(*packet.Error)
	if !ok || dup.Code != packet.ErrorClientAlreadyReady || dup.Fatal {
		t.Fatalf("packet = %+v, want non-fatal client-already-ready", dup)
	}
}

func TestReadyForOnboardedUser(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "development")
	user, s := e.login(t, "dave")
	if err := e.store.SetOnboarded(context.Background(), user.ID, true); err != nil {
		t.Fatalf("SetOnboarded() error = %v", err)
	}
	c := e.connect(t, s.AccessToken)
	c.next(t)
	c.next(t)

	c.send(`{"id":"client_ready"}`)
	c.expectNone(t)
	if !c.conn.ClientReady() {
		t.Error("ClientReady() = false")
	}
}

func TestReadyBeforeAuthenticationIsIgnored(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "development")
	c := e.connect(t, "")
	c.next(t) // acknowledge
	c.next(t) // warning

	c.send(`{"id":"client_ready"}`)
	c.expectNone(t)
	if c.conn.ClientReady() {
		t.Error("ClientReady() = true before authentication")
	}
}

func TestReauthenticationKicksOlderConnection(t *testing.T) {
	t.Parallel()

	e := newEnv(t, "development")
	_, first := e.login(t, "erin")
	older := e.connect(t, first.AccessToken)
	older.next(t)
	older.next(t)

	_, second := e.login(t, "erin")
	newer := e.connect(t, second.AccessToken)
	newer.next(t)
	if _, ok := newer.next(t).(*packet.Welcome); !ok {
		t.Fatal("newer connection was not welcomed")
	}

	kick, ok := older.next(t).(*packet.Kick)
	if !ok || kick.Reason != packet.KickSessionInvalidated {
		t.Fatalf("packet = %+v, want session-invalidated kick", kick)
	}
	select {
	case code := <-older.rec.closes:
		if code != authoritative.CloseSessionInvalidated {
			t.Fatalf("close code = %d, want %d", code, authoritative.CloseSessionInvalidated)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("older connection was not closed")
	}

	if state := newer.conn.State(); state != connection.StatePlay {
		t.Errorf("newer State() = %v, want PLAY", state)
	}
	newer.expectNone(t)
}
