// Package mock provides an in-memory persistence backend for testing.
package mock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/kozaktomas/faceid/internal/database"
)

// MockBackend is a mock implementation of database.Backend and database.Replacer
type MockBackend struct {
	mu          sync.Mutex
	enrollments map[string]database.Enrollment
	ops         []string

	// Error injection
	LoadError    error
	SaveError    error
	DeleteError  error
	ReplaceError error

	// Gate, when set, blocks every Save and Delete until a value is received.
	Gate chan struct{}
}

// NewMockBackend creates a new empty mock backend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		enrollments: make(map[string]database.Enrollment),
	}
}

// AddEnrollment seeds the backend without recording an operation
func (m *MockBackend) AddEnrollment(e database.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.IdentityID] = e.Clone()
}

// SetSaveError changes the injected Save error while the store is running
func (m *MockBackend) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveError = err
}

// LoadAll returns every enrollment in identity order
func (m *MockBackend) LoadAll(ctx context.Context) ([]database.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	return m.sortedLocked(), nil
}

// Save upserts an enrollment
func (m *MockBackend) Save(ctx context.Context, e database.Enrollment) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "save:"+e.IdentityID)
	if m.SaveError != nil {
		return m.SaveError
	}
	m.enrollments[e.IdentityID] = e.Clone()
	return nil
}

// Delete removes an enrollment
func (m *MockBackend) Delete(ctx context.Context, identityID string) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, "delete:"+identityID)
	if m.DeleteError != nil {
		return m.DeleteError
	}
	delete(m.enrollments, identityID)
	return nil
}

// ReplaceAll overwrites the backend content
func (m *MockBackend) ReplaceAll(ctx context.Context, enrollments []database.Enrollment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = append(m.ops, fmt.Sprintf("replace:%d", len(enrollments)))
	if m.ReplaceError != nil {
		return m.ReplaceError
	}
	m.enrollments = make(map[string]database.Enrollment, len(enrollments))
	for _, e := range enrollments {
		m.enrollments[e.IdentityID] = e.Clone()
	}
	return nil
}

// Get returns the persisted enrollment for identityID
func (m *MockBackend) Get(identityID string) (database.Enrollment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[identityID]
	return e, ok
}

// Count returns the number of persisted enrollments
func (m *MockBackend) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.enrollments)
}

// Ops returns the operations applied so far, e.g. "save:alice", "delete:bob"
func (m *MockBackend) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops)
}

// OpsString returns Ops joined with commas
func (m *MockBackend) OpsString() string {
	return strings.Join(m.Ops(), ",")
}

func (m *MockBackend) wait() {
	if m.Gate != nil {
		<-m.Gate
	}
}

func (m *MockBackend) sortedLocked() []database.Enrollment {
	ids := make([]string, 0, len(m.enrollments))
	for id := range m.enrollments {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]database.Enrollment, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.enrollments[id].Clone())
	}
	return out
}
