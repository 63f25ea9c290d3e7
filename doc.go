// Package authoritative is the real-time session layer of the Echoform game server.
//
// It accepts a persistent WebSocket connection from a game client, authenticates it,
// tracks its lifecycle and exchanges a typed JSON packet protocol. The server is
// authoritative: state the client must obey (enforced state, forced scenes) is pushed
// from here and never accepted from the client.
//
// # Architecture
//
// Each accepted socket is owned by one connection state machine:
//
//	BANNER -> LOGIN -> PLAY -> CLOSED
//
// BANNER validates the Device header in production. LOGIN acknowledges the connection,
// authenticates an Authorization bearer token when one was presented and arms an
// authentication deadline. PLAY is entered on successful authentication; the connection
// then subscribes to the invalidation bus so that a newer login for the same user kicks it.
// CLOSED is terminal and runs cleanup exactly once.
//
// # Protocol Format
//
// Every packet is a UTF-8 JSON text frame:
//
//	{"id": "<tag>", "data": <payload or null>, "sentAt": <number, optional>}
//
// Serverbound (client to server) and clientbound (server to client) tags are disjoint.
// Payloads are validated strictly: unknown fields, type mismatches and unknown enum
// values are rejected with a non-fatal "error" packet.
//
// # Invalidation Bus
//
// Sessions are invalidated across processes through a publish/subscribe channel named
//
//	<environment>:user_auth_invalidated:<userId>
//
// carrying {"sessionId": <number>}. Redis (or Valkey) is used when VALKEY_URL is set,
// an in-process transport otherwise.
//
// # Close Codes
//
//   - 1008 (policy violation): authentication timeout, rate limit exceeded
//   - 1011 (internal error): the invalidation subscription could not be made on login
//   - 4001: session invalidated by a newer authentication elsewhere
//   - 4003: handshake rejected in production
//
// Every fatal condition is preceded by a clientbound packet describing the reason.
//
// # Rate Limiting
//
// Each connection has an independent token bucket (default 100 messages/second, burst 200).
// Exceeding it closes the connection with 1008.
package authoritative
