// Package ws is the public entry point for building an authoritative server.
package ws

import (
	"net/http"

	"github.com/luciancaetano/authoritative"
	"github.com/luciancaetano/authoritative/internal/connection"
	"github.com/luciancaetano/authoritative/internal/websocket"
)

type RateLimitConfig = connection.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type Config = websocket.ServerConfig

const (
	// DefaultPath is the route clients connect to.
	DefaultPath = websocket.DefaultPath
	// DevSessionsPath issues sessions when Config.Issuer is set outside production.
	DevSessionsPath = websocket.DevSessionsPath
)

// New creates a new authoritative WebSocket server.
//
// Config fields:
//   - Addr: The listen address (e.g., ":3000" or "localhost:3000")
//   - Registry: Handlers for serverbound packets. Packets without a handler are dropped.
//   - Bus: Invalidation bus. Connections in PLAY subscribe to their user's channel.
//   - Production: Require the Device handshake header
//   - AuthTimeout: Time allowed between acknowledge and authentication (default 30s)
//   - RateLimitConfig: Use DefaultRateLimitConfig() or NoRateLimit(). nil means the default.
//   - CheckOrigin: Function to validate WebSocket origins. Use AllOrigins() to allow all (dev only)
//   - Issuer: Optional. Outside production, serves POST DevSessionsPath {"name": ...}
//
// Example:
//
//	server := ws.New(ws.Config{
//	    Addr:            ":3000",
//	    Registry:        registry,
//	    Bus:             bus,
//	    RateLimitConfig: ws.DefaultRateLimitConfig(),
//	    CheckOrigin:     ws.AllOrigins(),
//	})
func New(cfg Config) authoritative.Server {
	return websocket.New(cfg)
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return connection.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled
func NoRateLimit() *RateLimitConfig {
	return connection.NoRateLimit()
}
