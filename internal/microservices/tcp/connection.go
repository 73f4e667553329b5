package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"chatrelay/internal/relay"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// messages are newline-terminated text lines

const MaxDeadlineDuration = 5 * time.Minute // idle read timeout

type ClientConnection struct {
	ID           string // connection ID registered with the relay
	conn         net.Conn
	writer       *bufio.Writer
	writeMu      sync.Mutex // serializes writes from concurrent broadcasts
	writeTimeout time.Duration
	limiter      *rate.Limiter // nil = unlimited
	closed       atomic.Bool
	logger       *slog.Logger
}

// constructor for Connection
func NewClientConnection(conn net.Conn, writeTimeout time.Duration, limiter *rate.Limiter) *ClientConnection {
	return &ClientConnection{
		ID:           uuid.NewString(),
		conn:         conn,
		writer:       bufio.NewWriter(conn),
		writeTimeout: writeTimeout,
		limiter:      limiter,
		logger:       slog.Default(),
	}
}

// Listen reads lines and relays them until the client disconnects, idles out
// or the connection is closed from our side.
func (c *ClientConnection) Listen(ctx context.Context, svc *relay.Service) {
	defer c.Close()
	reader := bufio.NewReader(c.conn)
	limit := svc.MaxMessageSize()

	c.logger.Info("client_started_listening",
		"connection_id", c.ID,
		"remote_addr", c.conn.RemoteAddr().String(),
	)
	c.conn.SetReadDeadline(time.Now().Add(MaxDeadlineDuration))

	for {
		line, tooLong, err := readLine(reader, limit)
		if err != nil {
			c.logReadEnd(err)
			return
		}

		// reset deadline on successful read
		c.conn.SetReadDeadline(time.Now().Add(MaxDeadlineDuration))

		if tooLong {
			tooLarge := fmt.Errorf("line exceeds %d bytes: %w", limit, relay.ErrMessageTooLarge)
			svc.Reject(c.ID, tooLarge)
			c.reply(ctx, tooLarge)
			continue
		}

		if c.limiter != nil && !c.limiter.Allow() {
			svc.Reject(c.ID, relay.ErrRateLimited)
			c.reply(ctx, relay.ErrRateLimited)
			continue
		}

		payload := bytes.TrimRight(line, "\r\n")
		if _, err := svc.OnMessage(ctx, c.ID, payload); err != nil {
			c.reply(ctx, err)
		}
	}
}

// readLine reads one newline-terminated line. Bytes beyond the limit are
// discarded but still consumed, so an oversized line never desyncs the stream.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong && len(line)+len(chunk) <= limit+2 { // room for \r\n
			line = append(line, chunk...)
		} else {
			tooLong = true
			line = nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

func (c *ClientConnection) logReadEnd(err error) {
	switch {
	case errors.Is(err, io.EOF):
		c.logger.Info("client_eof", "connection_id", c.ID)
	case c.closed.Load() || errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "closed network connection"):
		// closed from our side during shutdown or after a failed write
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			c.logger.Warn("client_read_timeout", "connection_id", c.ID)
			return
		}
		c.logger.Error("client_read_error",
			"connection_id", c.ID,
			"error", err,
		)
	}
}

// Send writes payload as one line. A closed connection is Gone; any other
// write failure closes the connection and is transient.
func (c *ClientConnection) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("client %s closed: %w", c.ID, relay.ErrGone)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)

	//=> data + "\n" then flush to the io.Writer buffer
	if err := c.write(payload); err != nil {
		c.Close()
		if errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
			return fmt.Errorf("client %s: %v: %w", c.ID, err, relay.ErrGone)
		}
		return err
	}
	return nil
}

func (c *ClientConnection) write(payload []byte) error {
	if _, err := c.writer.Write(payload); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}
	return nil
}

func (c *ClientConnection) reply(ctx context.Context, err error) {
	if sendErr := c.Send(ctx, relay.ErrorReply(err)); sendErr != nil {
		c.logger.Debug("client_reply_failed",
			"connection_id", c.ID,
			"error", sendErr.Error(),
		)
	}
}

// method to close the connection
func (c *ClientConnection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}
