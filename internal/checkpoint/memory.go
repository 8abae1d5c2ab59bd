package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory. Used in tests and dry runs.
type MemoryStore struct {
	mu    sync.Mutex
	runs  map[string][]Entry
	saves int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]Entry)}
}

// Save implements Store.
func (m *MemoryStore) Save(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.runs[e.RunID] {
		if existing.StageID == e.StageID {
			return nil
		}
	}
	e.Data = append([]byte(nil), e.Data...)
	m.runs[e.RunID] = append(m.runs[e.RunID], e)
	m.saves++
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, runID, stageID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.runs[runID] {
		if e.StageID == stageID {
			return e, nil
		}
	}
	return Entry{}, ErrNotFound
}

// ListCompleted implements Store.
func (m *MemoryStore) ListCompleted(_ context.Context, runID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortByIndex(append([]Entry(nil), m.runs[runID]...)), nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	return nil
}

// Saves returns how many entries were actually written.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
