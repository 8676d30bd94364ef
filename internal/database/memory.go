package database

import (
	"context"
	"sync"
)

// MemoryBackend keeps enrollments in process memory only. Everything is lost
// on exit; it exists for demos and for running the service without storage.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]Enrollment
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Enrollment)}
}

func (m *MemoryBackend) LoadAll(ctx context.Context) ([]Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Enrollment, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *MemoryBackend) Save(ctx context.Context, e Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.IdentityID] = e.Clone()
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, identityID)
	return nil
}

func (m *MemoryBackend) ReplaceAll(ctx context.Context, enrollments []Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]Enrollment, len(enrollments))
	for _, e := range enrollments {
		m.entries[e.IdentityID] = e.Clone()
	}
	return nil
}
