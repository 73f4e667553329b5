package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DeliveryClient pushes one payload to one connection.
// A nil error means delivered; an error wrapping ErrGone means the target is
// confirmed unreachable; any other error is transient.
type DeliveryClient interface {
	Send(ctx context.Context, targetID string, payload []byte) error
}

// Outcome is the classification of a single delivery attempt
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeGone
	OutcomeTransient
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeGone:
		return "gone"
	case OutcomeTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Classify maps a Send error onto an Outcome
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDelivered
	case errors.Is(err, ErrGone):
		return OutcomeGone
	default:
		return OutcomeTransient
	}
}

// Sender is one live socket owned by a transport in this process.
type Sender interface {
	// Send writes payload to the socket. It returns an error wrapping ErrGone
	// once the socket is known to be closed.
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// LocalDelivery is the in-process socket table: it delivers by looking up the
// live socket for a connection ID. Transports attach a socket right after the
// handshake and detach it when their read loop exits.
type LocalDelivery struct {
	mu      sync.RWMutex      // guards senders
	senders map[string]Sender // key: connection ID
	logger  *slog.Logger
}

// NewLocalDelivery creates an empty socket table
func NewLocalDelivery() *LocalDelivery {
	return &LocalDelivery{
		senders: make(map[string]Sender),
		logger:  slog.Default(),
	}
}

// Attach makes id reachable through s
func (d *LocalDelivery) Attach(id string, s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[id] = s
	d.logger.Debug("socket_attached", "connection_id", id)
}

// Detach forgets the socket for id; detaching an unknown id is a no-op
func (d *LocalDelivery) Detach(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.senders, id)
	d.logger.Debug("socket_detached", "connection_id", id)
}

// Send delivers payload to the socket attached under targetID.
// An unknown ID is Gone: nothing in this process can reach it any more.
func (d *LocalDelivery) Send(ctx context.Context, targetID string, payload []byte) error {
	d.mu.RLock()
	s, ok := d.senders[targetID]
	d.mu.RUnlock() // never hold the table lock across a socket write
	if !ok {
		return fmt.Errorf("no socket for connection %s: %w", targetID, ErrGone)
	}
	return s.Send(ctx, payload)
}

// Count returns the number of attached sockets
func (d *LocalDelivery) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.senders)
}

// CloseAll empties the table, then closes every socket it held.
// Close may block on a slow peer, so it runs outside the table lock.
func (d *LocalDelivery) CloseAll() {
	d.mu.Lock()
	senders := d.senders
	d.senders = make(map[string]Sender)
	d.mu.Unlock()

	for id, s := range senders {
		if err := s.Close(); err != nil {
			d.logger.Warn("socket_close_failed",
				"connection_id", id,
				"error", err.Error(),
			)
		}
	}
}
