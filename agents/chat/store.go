package chat

import (
	"context"
	"sync"

	"github.com/bububa/nutrition-agents/components"
)

// SessionStore persists conversation history per session
type SessionStore interface {
	// Load returns the session history, empty for an unknown session
	Load(ctx context.Context, sessionID string) ([]components.Message, error)
	// Append adds messages to the session history
	Append(ctx context.Context, sessionID string, msgs ...components.Message) error
}

// MemoryStore keeps sessions in process, each capped to maxMessages
type MemoryStore struct {
	maxMessages int
	mu          sync.RWMutex
	sessions    map[string]*components.Memory
}

var _ SessionStore = (*MemoryStore)(nil)

// NewMemoryStore returns an in process store, 0 keeps every message
func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		maxMessages: maxMessages,
		sessions:    make(map[string]*components.Memory),
	}
}

// Load implements SessionStore
func (s *MemoryStore) Load(_ context.Context, sessionID string) ([]components.Message, error) {
	s.mu.RLock()
	mem, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return []components.Message{}, nil
	}
	return mem.History(), nil
}

// Append implements SessionStore
func (s *MemoryStore) Append(_ context.Context, sessionID string, msgs ...components.Message) error {
	s.mu.Lock()
	mem, ok := s.sessions[sessionID]
	if !ok {
		mem = components.NewMemory(s.maxMessages)
		s.sessions[sessionID] = mem
	}
	s.mu.Unlock()
	mem.Append(msgs...)
	return nil
}

// Sessions returns the number of known sessions
func (s *MemoryStore) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
