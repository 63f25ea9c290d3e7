// Package websocket accepts client sockets and runs one connection state
// machine per socket.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/luciancaetano/authoritative"
	"github.com/luciancaetano/authoritative/internal/connection"
	"github.com/luciancaetano/authoritative/internal/pubsub"
	"github.com/luciancaetano/authoritative/internal/session"
)

// DefaultPath is the route clients connect to.
const DefaultPath = "/client"

// CheckOriginFn is a function that validates the origin of a WebSocket connection request.
// It receives the HTTP request and returns true if the origin is allowed, false otherwise.
type CheckOriginFn = func(r *http.Request) bool

type ServerConfig struct {
	Addr string
	// Path defaults to DefaultPath.
	Path     string
	Registry *connection.Registry
	Bus      *pubsub.Bus
	// Production enforces the Device handshake header.
	Production      bool
	AuthTimeout     time.Duration
	RateLimitConfig *connection.RateLimitConfig
	CheckOrigin     CheckOriginFn
	// Issuer, when set, serves POST /dev/sessions outside production.
	Issuer *session.Issuer
	Logger *slog.Logger
}

// Server implements authoritative.Server
type Server struct {
	cfg      ServerConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	running  bool
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	clients sync.Map // map[string]*Client
	count   atomic.Int64
	wg      sync.WaitGroup
}

var _ authoritative.Server = (*Server)(nil)

// New creates a server. A nil RateLimitConfig uses connection.DefaultRateLimitConfig.
func New(cfg ServerConfig) *Server {
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = connection.DefaultRateLimitConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
	}
}

// Handler returns the HTTP routes: the WebSocket endpoint and /healthz.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET(s.cfg.Path, gin.WrapF(s.handleWebSocket))
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": s.Connections(),
		})
	})
	if s.cfg.Issuer != nil && !s.cfg.Production {
		engine.POST(DevSessionsPath, s.handleIssueSession)
	}
	return engine
}

// DevSessionsPath issues sessions for local development.
const DevSessionsPath = "/dev/sessions"

type issueSessionRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *Server) handleIssueSession(c *gin.Context) {
	var req issueSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, sess, err := s.cfg.Issuer.IssueFor(c.Request.Context(), req.Name)
	if err != nil {
		s.logger.Error("failed to issue session", "name", req.Name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"userId":      user.ID,
		"sessionId":   sess.ID,
		"accessToken": sess.AccessToken,
		"expiresAt":   sess.ExpiresAt,
	})
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New(authoritative.ErrServerAlreadyRunning)
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.running = true
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := s.server
	serverCtx := s.ctx
	s.mu.Unlock()

	s.logger.Info("server listening", "addr", listener.Addr().String(), "path", s.cfg.Path)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			s.Stop(stopCtx)
		case <-serverCtx.Done():
		}
	}()

	return nil
}

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every connection with 1001 and shuts the HTTP server down,
// waiting for connection goroutines to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	server := s.server
	s.mu.Unlock()

	err := server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Out of time: drop whatever sockets are left.
		s.clients.Range(func(_, v any) bool {
			v.(*Client).conn.Close()
			return true
		})
		return ctx.Err()
	}

	s.logger.Info("server stopped")
	return err
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	return int(s.count.Load())
}

// handleWebSocket upgrades the request and serves the connection on the
// handler goroutine until it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		http.Error(w, authoritative.ReasonShuttingDown, http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	ctx := s.ctx
	s.mu.RUnlock()
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	client := NewClient(conn, id, r.RemoteAddr, s.logger)
	s.clients.Store(id, client)
	s.count.Add(1)
	defer func() {
		s.clients.Delete(id)
		s.count.Add(-1)
	}()

	c := connection.New(connection.Options{
		ID:          id,
		Header:      r.Header,
		Transport:   client,
		Registry:    s.cfg.Registry,
		Bus:         s.cfg.Bus,
		Production:  s.cfg.Production,
		AuthTimeout: s.cfg.AuthTimeout,
		RateLimit:   s.cfg.RateLimitConfig,
		Logger:      s.cfg.Logger,
	})

	inbound := make(chan connection.Inbound, 16)
	go client.readPump(inbound)

	c.Serve(ctx, inbound)

	// Answers a client close frame; no-op after a server close.
	client.Close(authoritative.CloseNormal, "")
	<-client.Done()
}
