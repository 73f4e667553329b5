package relay

import "time"

// Observer receives relay events for instrumentation.
// Implementations must be safe for concurrent use.
type Observer interface {
	ConnectionOpened()
	// ConnectionClosed fires on every successful disconnect, including the
	// no-op one for a connection that was already evicted.
	ConnectionClosed()
	// ConnectionEvicted fires when a broadcast removes a Gone connection.
	ConnectionEvicted()
	DeliveryFinished(outcome Outcome)
	BroadcastFinished(targets int, elapsed time.Duration)
	MessageRejected(reason string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened() {}
func (nopObserver) ConnectionClosed() {}
func (nopObserver) ConnectionEvicted() {}
func (nopObserver) DeliveryFinished(Outcome) {}
func (nopObserver) BroadcastFinished(int, time.Duration) {}
func (nopObserver) MessageRejected(string) {}
