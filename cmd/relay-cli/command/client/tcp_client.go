package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// tcp_client.go = line protocol chat session for relay-cli.

// ChatTCP is ChatWS over the relay's newline-delimited TCP listener
func ChatTCP(ctx context.Context, addr string, in io.Reader, out io.Writer) error {
	printBanner(out, addr)
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	fmt.Fprintf(out, "✅ Connected! Type your messages (or /quit to exit)\n\n")

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			PrintMessage(out, scanner.Text())
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string)
	go scanLines(in, lines, stop)

	for {
		select {
		case <-ctx.Done():
			closeTCP(conn, done)
			return nil
		case <-done:
			fmt.Fprintln(out, "Connection closed by server")
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				closeTCP(conn, done)
				return nil
			}
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}
		}
	}
}

// closeTCP half-closes so the server reads everything sent so far, then waits
// for it to hang up.
func closeTCP(conn net.Conn, done <-chan struct{}) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		conn.Close()
		<-done
	}
}
