package authoritative

// WebSocket close codes used by the server.
const (
	// CloseNormal and CloseGoingAway are treated as client-intended closes.
	CloseNormal    = 1000
	CloseGoingAway = 1001

	// CloseAbnormal is reported when the socket dropped without a close frame.
	CloseAbnormal = 1006

	// ClosePolicyViolation is used for the authentication timeout and rate limiting.
	ClosePolicyViolation = 1008

	// CloseInternalError closes a connection the server can no longer serve.
	CloseInternalError = 1011

	// CloseSessionInvalidated is sent when a newer authentication for the same
	// user invalidated this connection's session.
	CloseSessionInvalidated = 4001

	// CloseUnauthorized rejects a handshake without a valid Device header in production.
	CloseUnauthorized = 4003
)

// Standard close reasons
const (
	ReasonAuthenticationTimeout = "Authentication timeout"
	ReasonSessionInvalidated    = "Session invalidated"
	ReasonUnauthorized          = "Unauthorized"
	ReasonRateLimited           = "Rate limit exceeded"
	ReasonShuttingDown          = "Server is shutting down"
	ReasonInternalError         = "Internal server error"
)

// Standard error messages
const (
	// Protocol errors
	ErrInvalidMessageFormat = "Invalid message format. Expected JSON string."
	ErrInternalError        = "An error occurred while processing your request."

	// Connection errors
	ErrConnectionClosed     = "client connection is closed"
	ErrFailedToEncode       = "failed to encode message"
	ErrServerAlreadyRunning = "server already running"
)
