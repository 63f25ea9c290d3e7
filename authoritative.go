package authoritative

import "context"

// Version is the server version reported to clients in the welcome packet.
const Version = "0.1.0"

// Server defines the interface for the authoritative WebSocket session server.
//
// Every accepted socket becomes one connection state machine that walks
// BANNER -> LOGIN -> PLAY -> CLOSED. Packets are JSON text frames using the
// envelope {"id": <tag>, "data": <payload>, "sentAt": <optional>}.
//
// Example usage:
//
//	import "github.com/luciancaetano/authoritative/ws"
//
//	server := ws.New(ws.Config{
//	    Addr:     ":3000",
//	    Registry: registry,
//	    Bus:      bus,
//	    Logger:   logger,
//	})
//
//	server.Start(ctx)
type Server interface {
	// Start starts the server and begins accepting connections.
	// The server keeps running until Stop is called or the context is cancelled.
	//
	// Returns an error if the server is already running or if there's a problem
	// binding to the network address.
	Start(ctx context.Context) error

	// Stop gracefully stops the server. Every live connection is closed with
	// 1001 (going away) and its cleanup runs before Stop returns.
	Stop(ctx context.Context) error

	// Connections returns the number of live connections.
	Connections() int
}
