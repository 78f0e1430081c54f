package checkpoint

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sonilabs/soni/internal/state"
)

// Memory is the in-process Store. Dialogues are deep-cloned on both paths so
// callers can never mutate the stored copy through a shared map.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*state.Dialogue
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*state.Dialogue)}
}

func (m *Memory) Load(_ context.Context, sessionID string) (*state.Dialogue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("checkpoint: session %q: %w", sessionID, ErrNotFound)
	}
	return d.Clone(), nil
}

func (m *Memory) Save(_ context.Context, d *state.Dialogue) error {
	if d.SessionID == "" {
		return fmt.Errorf("checkpoint: dialogue has no session id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[d.SessionID] = d.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *Memory) Sessions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) Close() error { return nil }
