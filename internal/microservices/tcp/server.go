package tcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"chatrelay/internal/relay"

	"golang.org/x/time/rate"
)

const ShutdownNotice = "Server is shutting down."

// Options tune every connection accepted by a TCPServer
type Options struct {
	WriteTimeout  time.Duration
	RateLimit     float64 // inbound lines per second, <= 0 disables limiting
	RateBurst     int
	ShutdownGrace time.Duration // pause between the shutdown notice and closing sockets
}

type TCPServer struct {
	Addr     string               // listen address, port 0 picks a free port
	Manager  *ConnectionManager   // connections of this server only
	service  *relay.Service       // connect / disconnect / message entry points
	local    *relay.LocalDelivery // shared socket table the broadcast engine delivers through
	opts     Options
	logger   *slog.Logger
	listener net.Listener
	ready    chan struct{} // closed once the listener is bound
	quitChan chan struct{} // closed by Stop
	stopOnce sync.Once
	wg       sync.WaitGroup // one per connection handler goroutine
}

// constructor for Server
func NewServer(addr string, service *relay.Service, local *relay.LocalDelivery, opts Options) *TCPServer {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &TCPServer{
		Addr:     addr,
		Manager:  NewConnectionManager(),
		service:  service,
		local:    local,
		opts:     opts,
		logger:   slog.Default(),
		ready:    make(chan struct{}),
		quitChan: make(chan struct{}),
	}
}

// Start listens and accepts connections until Stop is called
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}
	s.listener = listener
	close(s.ready)
	select {
	case <-s.quitChan: // stopped before the listener was bound
		listener.Close()
		return nil
	default:
	}
	s.logger.Info("tcp_server_started", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quitChan:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("tcp_accept_failed", "error", err.Error())
			continue
		}
		s.wg.Add(1)
		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

// Ready is closed once the listener is bound
func (s *TCPServer) Ready() <-chan struct{} {
	return s.ready
}

// ListenAddr returns the bound address; valid after Ready
func (s *TCPServer) ListenAddr() net.Addr {
	return s.listener.Addr()
}

// handle connections/lifecycle of single client connection
func (s *TCPServer) handleConnection(conn net.Conn) {
	ctx := context.Background()
	client := NewClientConnection(conn, s.opts.WriteTimeout, s.newLimiter())

	if err := client.Send(ctx, []byte(relay.WelcomeText)); err != nil {
		s.logger.Warn("welcome_send_failed",
			"connection_id", client.ID,
			"error", err.Error(),
		)
		client.Close()
		return
	}

	s.Manager.AddConnection(client)
	defer s.Manager.RemoveConnection(client)
	select {
	case <-s.quitChan:
		client.Close()
		return
	default:
	}

	s.local.Attach(client.ID, client)
	defer s.local.Detach(client.ID)

	if err := s.service.OnConnect(ctx, client.ID); err != nil {
		_ = client.Send(ctx, relay.ErrorReply(err))
		client.Close()
		return
	}
	// failure is logged by the lifecycle handler; the next broadcast evicts the ID as Gone
	defer func() { _ = s.service.OnDisconnect(ctx, client.ID) }()

	client.Listen(ctx, s.service)
}

func (s *TCPServer) newLimiter() *rate.Limiter {
	if s.opts.RateLimit <= 0 {
		return nil
	}
	burst := s.opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.opts.RateLimit), burst)
}

// Stop notifies clients, closes every connection and waits for their
// disconnect paths to finish.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.quitChan) // signal the accept loop to shutdown
		select {
		case <-s.ready:
			s.listener.Close()
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		s.Manager.BroadcastSystemMessage(ctx, ShutdownNotice)
		cancel()
		if s.opts.ShutdownGrace > 0 {
			time.Sleep(s.opts.ShutdownGrace) // let clients process the notice
		}

		s.Manager.CloseAllConnections()
		s.wg.Wait()
		s.logger.Info("tcp_server_stopped")
	})
}
