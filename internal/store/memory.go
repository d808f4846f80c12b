package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/nvandessel/tally/internal/models"
)

// InMemoryStore is a Store backed by maps. It is safe for concurrent use and
// hands out copies, so callers never alias stored records.
type InMemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]models.Transaction
	sessions     map[string]models.ReviewState
	tasks        map[string]models.Task
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transactions: make(map[string]models.Transaction),
		sessions:     make(map[string]models.ReviewState),
		tasks:        make(map[string]models.Task),
	}
}

func cloneTransaction(tx models.Transaction) models.Transaction {
	tx.DuplicateOf = slices.Clone(tx.DuplicateOf)
	return tx
}

func cloneState(s models.ReviewState) models.ReviewState {
	s.Steps = slices.Clone(s.Steps)
	s.Choices = maps.Clone(s.Choices)
	if s.Choices == nil {
		s.Choices = make(map[string]any)
	}
	return s
}

// PutTransaction implements Store.
func (m *InMemoryStore) PutTransaction(_ context.Context, tx models.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = cloneTransaction(tx)
	return nil
}

// GetTransaction implements Store.
func (m *InMemoryStore) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	c := cloneTransaction(tx)
	return &c, nil
}

// ListDuplicates implements Store.
func (m *InMemoryStore) ListDuplicates(_ context.Context, id string) ([]models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	var dups []models.Transaction
	for _, dupID := range tx.DuplicateOf {
		if d, ok := m.transactions[dupID]; ok {
			dups = append(dups, cloneTransaction(d))
		}
	}
	return dups, nil
}

// ApplyResolution implements Store.
func (m *InMemoryStore) ApplyResolution(_ context.Context, id string, values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	for field, v := range values {
		if err := tx.SetField(field, v); err != nil {
			return err
		}
	}
	tx.DuplicateOf = nil
	m.transactions[id] = tx
	delete(m.sessions, id)
	return nil
}

// SaveSession implements Store.
func (m *InMemoryStore) SaveSession(_ context.Context, state models.ReviewState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	m.sessions[state.TransactionID] = cloneState(state)
	return nil
}

// LoadSession implements Store.
func (m *InMemoryStore) LoadSession(_ context.Context, transactionID string) (*models.ReviewState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[transactionID]
	if !ok {
		return nil, nil
	}
	c := cloneState(s)
	return &c, nil
}

// RecordChoice implements Store.
func (m *InMemoryStore) RecordChoice(_ context.Context, transactionID string, choice FieldChoice, nextCursor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[transactionID]
	if !ok {
		return fmt.Errorf("review session %s: %w", transactionID, ErrNotFound)
	}
	s = cloneState(s)
	s.Choices[choice.Field] = choice.Value
	s.Cursor = nextCursor
	s.UpdatedAt = time.Now()
	m.sessions[transactionID] = s
	return nil
}

// PutTask implements Store.
func (m *InMemoryStore) PutTask(_ context.Context, task models.Task) error {
	if task.ReportID == "" {
		return fmt.Errorf("task report id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ReportID] = task
	return nil
}

// GetTask implements Store.
func (m *InMemoryStore) GetTask(_ context.Context, reportID string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[reportID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// UpdateTaskDescription implements Store.
func (m *InMemoryStore) UpdateTaskDescription(_ context.Context, reportID, description, descriptionHTML string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[reportID]
	if !ok {
		return fmt.Errorf("task %s: %w", reportID, ErrNotFound)
	}
	t.Description = description
	t.DescriptionHTML = descriptionHTML
	m.tasks[reportID] = t
	return nil
}

// Close implements Store.
func (m *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
