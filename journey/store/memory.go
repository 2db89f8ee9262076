package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemRepository is an in-memory implementation of Repository.
//
// Designed for:
//   - Testing and development
//   - Short-lived workflows where persistence isn't required
//
// MemRepository is thread-safe. Data is lost when the process
// terminates; use SQLiteRepository or MySQLRepository when cases must
// survive restarts.
type MemRepository struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	counters map[string]int64
}

// NewMemRepository creates an empty in-memory repository.
func NewMemRepository() *MemRepository {
	return &MemRepository{
		docs:     make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

// SaveOrUpdate writes the document, creating or replacing it.
func (m *MemRepository) SaveOrUpdate(_ context.Context, key string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = cloneDoc(doc)
	return nil
}

// Save writes a new document, failing if the key already exists.
func (m *MemRepository) Save(_ context.Context, key string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[key]; exists {
		return ErrAlreadyExists
	}
	m.docs[key] = cloneDoc(doc)
	return nil
}

// Update replaces an existing document, failing if the key is absent.
func (m *MemRepository) Update(_ context.Context, key string, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[key]; !exists {
		return ErrNotFound
	}
	m.docs[key] = cloneDoc(doc)
	return nil
}

// Delete removes the document or counter under key. Absent keys are
// ignored.
func (m *MemRepository) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, key)
	delete(m.counters, key)
	return nil
}

// Get returns a copy of the document under key.
func (m *MemRepository) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, exists := m.docs[key]
	if !exists {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

// GetAll returns every document whose key begins with docType, ordered
// by key.
func (m *MemRepository) GetAll(_ context.Context, docType string) ([]KeyDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []KeyDoc
	for key, doc := range m.docs {
		if strings.HasPrefix(key, docType) {
			out = append(out, KeyDoc{Key: key, Doc: cloneDoc(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// GetLocked behaves as Get; a single in-process repository has no
// multi-writer deployment to lock against.
func (m *MemRepository) GetLocked(ctx context.Context, key string) ([]byte, error) {
	return m.Get(ctx, key)
}

// IncrCounter atomically increments the named counter.
func (m *MemRepository) IncrCounter(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

func cloneDoc(doc []byte) []byte {
	out := make([]byte, len(doc))
	copy(out, doc)
	return out
}
