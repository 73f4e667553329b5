package tcp

import (
	"context"
	"log/slog"
	"sync"
)

// ConnectionManager tracks the TCP connections of one server so shutdown can
// notify and close them without touching sockets owned by other transports.
type ConnectionManager struct {
	clients map[string]*ClientConnection // key: connection ID
	mu      sync.RWMutex                 // read-write mutex for concurrent access
	logger  *slog.Logger
}

// constructor for ConnectionManager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*ClientConnection),
		logger:  slog.Default(),
	}
}

// method to add a new connection
func (m *ConnectionManager) AddConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[client.ID] = client
	m.logger.Debug("client_added", "connection_id", client.ID)
}

// method to remove a connection
func (m *ConnectionManager) RemoveConnection(client *ClientConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, client.ID)
	m.logger.Debug("client_removed", "connection_id", client.ID)
}

func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// BroadcastSystemMessage sends text to every TCP client, e.g. a shutdown notice
func (m *ConnectionManager) BroadcastSystemMessage(ctx context.Context, text string) {
	m.mu.RLock()
	clients := make([]*ClientConnection, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		if err := c.Send(ctx, []byte(text)); err != nil {
			m.logger.Warn("failed_to_send_system_message",
				"connection_id", c.ID,
				"error", err.Error(),
			)
		}
	}
}

// method to close all connections; their Listen loops then run the disconnect path
func (m *ConnectionManager) CloseAllConnections() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, client := range m.clients {
		if err := client.Close(); err != nil {
			m.logger.Warn("client_close_failed",
				"connection_id", id,
				"error", err.Error(),
			)
		}
	}
}
