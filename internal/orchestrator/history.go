package orchestrator

import (
	"context"
	"sync"

	"github.com/kekehq/keke/internal/store"
)

// MemoryHistory is an in-process history log for tests and degraded boots
// without Postgres.
type MemoryHistory struct {
	mu      sync.Mutex
	seq     int64
	entries []store.HistoryEntry
}

// NewMemoryHistory creates an empty log.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// AppendHistory records an entry and assigns the next sequence number.
func (m *MemoryHistory) AppendHistory(_ context.Context, e *store.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.Seq = m.seq
	m.entries = append(m.entries, *e)
	return nil
}

// History returns the most recent entries in arrival order.
func (m *MemoryHistory) History(_ context.Context, limit int) ([]store.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	out := make([]store.HistoryEntry, limit)
	copy(out, m.entries[len(m.entries)-limit:])
	return out, nil
}
