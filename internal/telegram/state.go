package telegram

import (
	"sync"
)

// ChatState is what the bot expects from the next plain text message.
type ChatState int

const (
	StateIdle ChatState = iota
	StateAwaitingTopic
	StateAwaitingPremise
	StateAwaitingCharacter
)

type StateManager struct {
	mu     sync.RWMutex
	states map[int64]ChatState
}

func NewStateManager() *StateManager {
	return &StateManager{
		states: make(map[int64]ChatState),
	}
}

func (m *StateManager) Get(chatID int64) ChatState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[chatID]
}

func (m *StateManager) Set(chatID int64, state ChatState) {
	m.mu.Lock()
	m.states[chatID] = state
	m.mu.Unlock()
}

func (m *StateManager) Reset(chatID int64) {
	m.mu.Lock()
	delete(m.states, chatID)
	m.mu.Unlock()
}
