package knowledge

import (
	"context"
	"sync"
)

// MemoryBase is an in-process Base.
type MemoryBase struct {
	mu   sync.RWMutex
	docs map[string][]Document
}

// NewMemoryBase creates an empty MemoryBase.
func NewMemoryBase() *MemoryBase {
	return &MemoryBase{docs: make(map[string][]Document)}
}

// Add implements Base.
func (m *MemoryBase) Add(_ context.Context, jobID string, docs ...Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[jobID] = append(m.docs[jobID], docs...)
	return nil
}

// Retrieve implements Base.
func (m *MemoryBase) Retrieve(_ context.Context, jobID, query string, k int) ([]Snippet, error) {
	m.mu.RLock()
	docs := append([]Document(nil), m.docs[jobID]...)
	m.mu.RUnlock()
	return rank(docs, query, k), nil
}

// Delete implements Base.
func (m *MemoryBase) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, jobID)
	return nil
}

// Len returns the number of documents stored for a job.
func (m *MemoryBase) Len(jobID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[jobID])
}
