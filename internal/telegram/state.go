package telegram

import "sync"

const (
	StateNone      = ""
	StateAwaitsPIN = "awaits_pin"
)

// StateManager tracks conversational state per chat user.
type StateManager struct {
	mu    sync.RWMutex
	users map[int64]string
}

func NewStateManager() *StateManager {
	return &StateManager{
		users: make(map[int64]string),
	}
}

func (m *StateManager) Get(userID int64) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userID]
}

func (m *StateManager) Set(userID int64, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = state
}

func (m *StateManager) Clear(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}
