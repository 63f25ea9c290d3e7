package websocket

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/luciancaetano/authoritative"
	"github.com/luciancaetano/authoritative/internal/connection"
	"github.com/luciancaetano/authoritative/internal/packet"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

var errClientClosed = errors.New(authoritative.ErrConnectionClosed)

// outbound is either a text frame or the final close frame.
type outbound struct {
	data   []byte
	close  bool
	code   int
	reason string
}

// Client is the socket side of one connection. Writes go through a single
// write pump, so a close frame is always written after every text frame
// queued before it.
type Client struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	logger     *slog.Logger

	sendCh chan outbound
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ connection.Transport = (*Client)(nil)

// NewClient wraps conn and starts its write pump.
func NewClient(conn *websocket.Conn, id, remoteAddr string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	client := &Client{
		id:         id,
		conn:       conn,
		remoteAddr: remoteAddr,
		logger:     logger.With("connID", id),
		sendCh:     make(chan outbound, sendBuffer),
		done:       make(chan struct{}),
	}

	go client.writePump()

	return client
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the client's remote network address
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Done is closed once the write pump exited and the socket is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WriteText queues a text frame.
func (c *Client) WriteText(ctx context.Context, data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return errClientClosed
	}

	// Keep the lock while sending to prevent race with Close()
	select {
	case c.sendCh <- outbound{data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errClientClosed
	}
}

// Close queues a close frame with code and reason. Only the first call has
// an effect.
func (c *Client) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	select {
	case c.sendCh <- outbound{close: true, code: code, reason: reason}:
	default:
		// Queue full; the peer is not reading. Drop the socket.
		c.logger.Warn("send queue full, closing without close frame")
		return c.conn.Close()
	}
	return nil
}

// IsAlive returns true until Close was called.
func (c *Client) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// writePump pumps frames from the send channel to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case frame := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if frame.close {
				msg := websocket.FormatCloseMessage(frame.code, frame.reason)
				if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
					c.logger.Debug("failed to write close frame", "error", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}

		case <-ticker.C:
			// Send ping to keep connection alive
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump forwards frames to inbound until the socket fails or closes.
// The last event is always a close.
func (c *Client) readPump(inbound chan<- connection.Inbound) {
	c.conn.SetReadLimit(packet.MaxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			code := authoritative.CloseAbnormal
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code = closeErr.Code
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			c.forward(inbound, connection.Inbound{Closed: true, CloseCode: code})
			return
		}

		// Reset read deadline after successful read
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.forward(inbound, connection.Inbound{Data: data, Binary: kind == websocket.BinaryMessage}) {
			return
		}
	}
}

func (c *Client) forward(inbound chan<- connection.Inbound, in connection.Inbound) bool {
	select {
	case inbound <- in:
		return true
	case <-c.done:
		return false
	}
}
