package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is the in-process registry used when Redis is disabled.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]*Session)}
}

func (m *MemoryRegistry) Register(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.sessions[s.ID]; ok {
		s.CreatedAt = prev.CreatedAt
	} else if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	s.LastHeartbeat = time.Now()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemoryRegistry) Unregister(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	cp := *s
	return &cp, nil
}

// List returns sessions ordered by creation time.
func (m *MemoryRegistry) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRegistry) UpdateHeartbeat(_ context.Context, id string) error {
	return m.update(id, func(s *Session) {})
}

func (m *MemoryRegistry) UpdateStatus(_ context.Context, id string, status Status, message string) error {
	if status == "" {
		return fmt.Errorf("status required")
	}
	return m.update(id, func(s *Session) {
		s.Status = status
		s.Error = message
	})
}

func (m *MemoryRegistry) UpdateStats(_ context.Context, id string, stats *SessionStats) error {
	return m.update(id, func(s *Session) {
		if stats != nil {
			cp := *stats
			s.Stats = &cp
		} else {
			s.Stats = nil
		}
	})
}

func (m *MemoryRegistry) update(id string, fn func(*Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	fn(s)
	s.LastHeartbeat = time.Now()
	return nil
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	return nil
}
