package relay

import (
	"context"
	"sync"
)

// Registry is the set of connection IDs currently believed reachable.
// Implementations must be safe for concurrent use; each call is atomic on its own.
type Registry interface {
	// Register adds id. Registering a present id is a no-op.
	Register(ctx context.Context, id string) error
	// Unregister removes id. Removing an absent id is a no-op.
	Unregister(ctx context.Context, id string) error
	// Snapshot returns the members at one point in time, in no particular order.
	Snapshot(ctx context.Context) ([]string, error)
}

// MemoryRegistry keeps the registry in process memory.
// Its lifetime equals the process lifetime.
type MemoryRegistry struct {
	mu  sync.RWMutex        // guards ids
	ids map[string]struct{} // set of connection IDs
}

// NewMemoryRegistry creates an empty in-memory registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		ids: make(map[string]struct{}),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[id] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ids, id)
	return nil
}

// Snapshot returns a copy, so callers can iterate without holding the lock
func (r *MemoryRegistry) Snapshot(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of registered connections
func (r *MemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
