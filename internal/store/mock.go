package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/meishi-bot/meishi/internal/card"
)

// MockStore is a Store for testing.
type MockStore struct {
	// Existing lists names that count as duplicates.
	Existing map[string]bool
	// FindErr is returned from every FindDuplicate call when set.
	FindErr error
	// CreateErr is returned from every CreateCard call when set.
	CreateErr error

	mu      sync.Mutex
	creates []card.FieldData
	finds   []string
	nextID  int
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{Existing: make(map[string]bool)}
}

func (m *MockStore) FindDuplicate(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	m.finds = append(m.finds, name)
	m.mu.Unlock()

	if m.FindErr != nil {
		return false, m.FindErr
	}
	return m.Existing[name], nil
}

func (m *MockStore) CreateCard(ctx context.Context, fields card.FieldData) (string, error) {
	if m.CreateErr != nil {
		return "", m.CreateErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, fields)
	m.nextID++
	return fmt.Sprintf("rec-%d", m.nextID), nil
}

// Creates returns the field sets written so far.
func (m *MockStore) Creates() []card.FieldData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]card.FieldData, len(m.creates))
	copy(out, m.creates)
	return out
}

// Finds returns the names screened so far.
func (m *MockStore) Finds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.finds))
	copy(out, m.finds)
	return out
}
