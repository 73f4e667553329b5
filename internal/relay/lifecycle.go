package relay

import (
	"context"
	"log/slog"
)

// Lifecycle moves a connection between absent and active by keeping the
// registry in step with connect and disconnect events.
type Lifecycle struct {
	registry Registry
	logger   *slog.Logger
	observer Observer
}

// NewLifecycle creates a lifecycle handler over registry
func NewLifecycle(registry Registry, logger *slog.Logger, observer Observer) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Lifecycle{
		registry: registry,
		logger:   logger,
		observer: observer,
	}
}

// Connect registers id after a successful handshake
func (l *Lifecycle) Connect(ctx context.Context, id string) error {
	if err := l.registry.Register(ctx, id); err != nil {
		l.logger.Error("client_register_failed",
			"connection_id", id,
			"error", err.Error(),
		)
		return &RegistryError{Op: "register", Err: err}
	}
	l.observer.ConnectionOpened()
	l.logger.Info("client_connected", "connection_id", id)
	return nil
}

// Disconnect unregisters id. It succeeds when id was already evicted.
func (l *Lifecycle) Disconnect(ctx context.Context, id string) error {
	if err := l.registry.Unregister(ctx, id); err != nil {
		l.logger.Error("client_unregister_failed",
			"connection_id", id,
			"error", err.Error(),
		)
		return &RegistryError{Op: "unregister", Err: err}
	}
	l.observer.ConnectionClosed()
	l.logger.Info("client_disconnected", "connection_id", id)
	return nil
}
