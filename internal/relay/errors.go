package relay

import (
	"errors"
	"fmt"
)

// client input errors: reported to the sender only, never broadcast
var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// ErrGone marks a delivery target that is confirmed unreachable.
// Delivery clients wrap it; the broadcast engine evicts the target.
var ErrGone = errors.New("connection gone")

// RegistryError is returned when the registry storage cannot serve an operation.
type RegistryError struct {
	Op  string // register, unregister, snapshot
	Err error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry %s failed: %v", e.Op, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// IsClientInputError reports whether err should be answered to the sender
// rather than treated as a server failure.
func IsClientInputError(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrMessageTooLarge) ||
		errors.Is(err, ErrRateLimited)
}

// IsRegistryError reports whether err came from the registry storage.
func IsRegistryError(err error) bool {
	var regErr *RegistryError
	return errors.As(err, &regErr)
}
