package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxMessageSize bounds a single relayed payload
const DefaultMaxMessageSize = 32 * 1024

// Service is the transport-facing surface of the relay. WebSocket, TCP and
// gateway transports translate their events into these three calls.
type Service struct {
	lifecycle      *Lifecycle
	engine         *Engine
	maxMessageSize int
	logger         *slog.Logger
	observer       Observer
}

// Deps groups what a Service needs
type Deps struct {
	Registry       Registry
	Client         DeliveryClient
	Logger         *slog.Logger
	Observer       Observer
	MaxMessageSize int // <= 0 means DefaultMaxMessageSize
}

// NewService wires a lifecycle handler and a broadcast engine over the same registry
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var observer Observer = nopObserver{}
	if d.Observer != nil {
		observer = d.Observer
	}
	maxSize := d.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Service{
		lifecycle:      NewLifecycle(d.Registry, logger, observer),
		engine:         NewEngine(d.Registry, d.Client, WithLogger(logger), WithObserver(observer)),
		maxMessageSize: maxSize,
		logger:         logger,
		observer:       observer,
	}
}

// OnConnect registers a freshly established connection
func (s *Service) OnConnect(ctx context.Context, id string) error {
	return s.lifecycle.Connect(ctx, id)
}

// OnDisconnect unregisters a connection that closed explicitly
func (s *Service) OnDisconnect(ctx context.Context, id string) error {
	return s.lifecycle.Disconnect(ctx, id)
}

// OnMessage validates a payload from id and broadcasts it to every other connection.
// Invalid input is returned as a client input error and never broadcast.
func (s *Service) OnMessage(ctx context.Context, id string, payload []byte) (Report, error) {
	if len(bytes.TrimSpace(payload)) == 0 {
		s.reject(id, "empty")
		return Report{}, ErrEmptyMessage
	}
	if len(payload) > s.maxMessageSize {
		s.reject(id, "too_large")
		return Report{}, fmt.Errorf("%d bytes, limit %d: %w", len(payload), s.maxMessageSize, ErrMessageTooLarge)
	}
	s.logger.Debug("message_received",
		"connection_id", id,
		"size", len(payload),
	)
	return s.engine.Broadcast(ctx, id, payload)
}

// Reject records a message dropped by a transport before it reached the service
func (s *Service) Reject(id string, err error) {
	switch {
	case errors.Is(err, ErrRateLimited):
		s.reject(id, "rate_limited")
	case errors.Is(err, ErrMessageTooLarge):
		s.reject(id, "too_large")
	case errors.Is(err, ErrEmptyMessage):
		s.reject(id, "empty")
	default:
		s.reject(id, "invalid")
	}
}

// MaxMessageSize returns the payload limit enforced by OnMessage
func (s *Service) MaxMessageSize() int {
	return s.maxMessageSize
}

func (s *Service) reject(id, reason string) {
	s.observer.MessageRejected(reason)
	s.logger.Warn("message_rejected",
		"connection_id", id,
		"reason", reason,
	)
}
