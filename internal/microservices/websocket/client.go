package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"chatrelay/internal/relay"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const ( // ping pong(2-way heartbeat) to keep connection alive
	PongWait   = 60 * time.Second    // no pong within this window = dead peer
	PingPeriod = (PongWait * 9) / 10 // 90% of pong wait, leaves room for network jitter
	// hard cap on a single frame; payloads between the relay limit and this cap get an error reply
	readLimitFactor = 4
)

// Client is one WebSocket connection. It is the relay.Sender behind its
// connection ID in the local socket table.
type Client struct {
	ID           string          // connection ID registered with the relay
	conn         *websocket.Conn // WebSocket connection
	writeMu      sync.Mutex      // gorilla allows one concurrent writer
	writeTimeout time.Duration
	limiter      *rate.Limiter // nil = unlimited
	closed       atomic.Bool
	closeOnce    sync.Once
	done         chan struct{} // closed by Close, stops the ping loop
	logger       *slog.Logger
}

// NewClient wraps an upgraded connection
func NewClient(id string, conn *websocket.Conn, writeTimeout time.Duration, limiter *rate.Limiter) *Client {
	return &Client{
		ID:           id,
		conn:         conn,
		writeTimeout: writeTimeout,
		limiter:      limiter,
		done:         make(chan struct{}),
		logger:       slog.Default(),
	}
}

// Send writes payload as one text frame. A closed socket is Gone. Any other
// write failure closes the socket and is returned as transient; the read loop
// then unregisters the connection.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("client %s closed: %w", c.ID, relay.ErrGone)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		c.Close()
		return fmt.Errorf("client %s: %v: %w", c.ID, err, relay.ErrGone)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		// a failed write leaves the gorilla connection unusable
		c.Close()
		if isClosedConnErr(err) {
			return fmt.Errorf("client %s: %v: %w", c.ID, err, relay.ErrGone)
		}
		return fmt.Errorf("failed to write to client %s: %w", c.ID, err)
	}
	return nil
}

// ReadPump reads text frames and hands them to the relay service until the
// peer goes away. Input errors are answered to this client only.
func (c *Client) ReadPump(ctx context.Context, svc *relay.Service) {
	defer c.Close()

	c.conn.SetReadLimit(int64(svc.MaxMessageSize()) * readLimitFactor)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && !c.closed.Load() {
				c.logger.Warn("client_read_error",
					"connection_id", c.ID,
					"error", err.Error(),
				)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(PongWait))

		if msgType != websocket.TextMessage {
			svc.Reject(c.ID, errBinaryFrame)
			c.reply(ctx, errBinaryFrame)
			continue
		}

		// returns true if a token is available then consumes it
		if c.limiter != nil && !c.limiter.Allow() {
			svc.Reject(c.ID, relay.ErrRateLimited)
			c.reply(ctx, relay.ErrRateLimited)
			continue
		}

		if _, err := svc.OnMessage(ctx, c.ID, data); err != nil {
			c.reply(ctx, err)
		}
	}
}

// WritePump only sends pings; payloads are written directly by Send
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// WriteControl is safe to call concurrently with WriteMessage
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("client_ping_failed",
					"connection_id", c.ID,
					"error", err.Error(),
				)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Close sends a close frame and closes the socket; later calls are no-ops
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) reply(ctx context.Context, err error) {
	if sendErr := c.Send(ctx, relay.ErrorReply(err)); sendErr != nil {
		c.logger.Debug("client_reply_failed",
			"connection_id", c.ID,
			"error", sendErr.Error(),
		)
	}
}

var errBinaryFrame = errors.New("only text frames are accepted")

// isClosedConnErr reports write errors that mean the peer can never be reached again
func isClosedConnErr(err error) bool {
	return errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET)
}
