package gateway

import (
	"log/slog"
	"sync"
)

// Manager tracks live connections and the conversation each one is currently
// bound to. A connection may have no conversation yet (first frame of a cold
// start binds one lazily).
type Manager struct {
	mu            sync.RWMutex
	clients       map[string]*Client
	conversations map[string]int64
}

func NewManager() *Manager {
	return &Manager{
		clients:       make(map[string]*Client),
		conversations: make(map[string]int64),
	}
}

func (m *Manager) Register(c *Client) {
	m.mu.Lock()
	m.clients[c.id] = c
	total := len(m.clients)
	m.mu.Unlock()
	slog.Info("client connected", "client", c.id, "connections", total)
}

func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	conversationID := m.conversations[c.id]
	delete(m.clients, c.id)
	delete(m.conversations, c.id)
	total := len(m.clients)
	m.mu.Unlock()
	slog.Info("client disconnected", "client", c.id, "conversation_id", conversationID, "connections", total)
}

// Bind records the conversation a connection is working in.
func (m *Manager) Bind(clientID string, conversationID int64) {
	m.mu.Lock()
	m.conversations[clientID] = conversationID
	m.mu.Unlock()
}

// ConversationFor returns the conversation bound to a connection, or false
// when none has been bound yet.
func (m *Manager) ConversationFor(clientID string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.conversations[clientID]
	return id, ok && id != 0
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}
