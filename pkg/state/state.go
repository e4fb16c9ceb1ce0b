package state

import (
	"sync"
	"time"
)

// Prompt marks a user in a chat as expected to reply with availability text
// for a specific event.
type Prompt struct {
	EventName string
	Timestamp time.Time
}

type key struct {
	ChatID   int64
	MemberID int64
}

// Manager tracks which users are currently answering an availability prompt
type Manager struct {
	prompts map[key]Prompt
	mu      sync.Mutex
}

// New creates a new prompt state manager
func New() *Manager {
	return &Manager{
		prompts: make(map[key]Prompt),
	}
}

// Expect marks the user as answering for the given event
func (m *Manager) Expect(chatID, memberID int64, eventName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts[key{chatID, memberID}] = Prompt{
		EventName: eventName,
		Timestamp: time.Now(),
	}
}

// Claim returns the event the user's next text message answers, clearing the
// expectation. Prompts older than 10 minutes expire.
func (m *Manager) Claim(chatID, memberID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{chatID, memberID}
	prompt, ok := m.prompts[k]
	if !ok {
		return "", false
	}
	delete(m.prompts, k)
	if time.Since(prompt.Timestamp) > 10*time.Minute {
		return "", false
	}
	return prompt.EventName, true
}

// Clear removes the expectation for a user
func (m *Manager) Clear(chatID, memberID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.prompts, key{chatID, memberID})
}
