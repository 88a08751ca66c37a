package index

import (
	"context"
	"sync"

	"github.com/kekehq/keke/internal/store"
)

// MemoryMeta is an in-process MetaStore used when Postgres is not
// configured, and by tests.
type MemoryMeta struct {
	mu     sync.RWMutex
	chunks map[string][]store.ChunkRecord
	gens   map[string]string
}

// NewMemoryMeta creates an empty metadata map.
func NewMemoryMeta() *MemoryMeta {
	return &MemoryMeta{
		chunks: make(map[string][]store.ChunkRecord),
		gens:   make(map[string]string),
	}
}

// ReplaceChunks swaps the note's chunk set and generation pointer under one
// lock, matching the Postgres transaction semantics.
func (m *MemoryMeta) ReplaceChunks(_ context.Context, noteID, generation, version string, chunks []store.ChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[noteID] = append([]store.ChunkRecord(nil), chunks...)
	m.gens[noteID] = generation
	return nil
}

// DeleteChunks removes the note's chunk rows and generation pointer.
func (m *MemoryMeta) DeleteChunks(_ context.Context, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, noteID)
	delete(m.gens, noteID)
	return nil
}

// Generations returns the current generation per note.
func (m *MemoryMeta) Generations(_ context.Context, noteIDs []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(noteIDs))
	for _, id := range noteIDs {
		if gen, ok := m.gens[id]; ok {
			out[id] = gen
		}
	}
	return out, nil
}

// Chunks returns the current chunk rows for a note.
func (m *MemoryMeta) Chunks(noteID string) []store.ChunkRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]store.ChunkRecord(nil), m.chunks[noteID]...)
}
