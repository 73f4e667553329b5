package client

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ws_client.go = WebSocket chat session for relay-cli.

// ChatWS relays lines from in to the server and prints incoming frames to out
// until /quit, EOF on in, ctx cancellation or the server closing the socket.
func ChatWS(ctx context.Context, wsURL string, in io.Reader, out io.Writer) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay URL %q: scheme must be ws or wss", wsURL)
	}

	printBanner(out, u.String())
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer conn.Close()

	fmt.Fprintf(out, "✅ Connected! Type your messages (or /quit to exit)\n\n")

	// Goroutine to receive messages
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			PrintMessage(out, string(data))
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	lines := make(chan string)
	go scanLines(in, lines, stop)

	for {
		select {
		case <-ctx.Done():
			closeWS(conn, done)
			return nil
		case <-done:
			fmt.Fprintln(out, "Connection closed by server")
			return nil
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				closeWS(conn, done)
				return nil
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return fmt.Errorf("write failed: %w", err)
			}
		}
	}
}

// closeWS sends a close frame and waits briefly for the server to answer,
// so nothing is printed after ChatWS returns.
func closeWS(conn *websocket.Conn, done <-chan struct{}) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	select {
	case <-done:
	case <-time.After(time.Second):
		conn.Close()
		<-done
	}
}
