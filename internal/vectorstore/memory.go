package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// Memory is an in-process vector index with brute-force cosine search. It
// backs development and test runs when no Qdrant instance is configured,
// exposing the same operations as the gRPC client.
type Memory struct {
	mu     sync.RWMutex
	points map[string]map[string]Point // collection -> id -> point
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{points: make(map[string]map[string]Point)}
}

// EnsureCollection creates the collection map if needed. Dimension is not
// enforced; cosine handles whatever the embedder produces.
func (m *Memory) EnsureCollection(_ context.Context, name string, _ uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.points[name]; !ok {
		m.points[name] = make(map[string]Point)
	}
	return nil
}

// UpsertBatch stores all points under their ids.
func (m *Memory) UpsertBatch(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.points[collection]
	if coll == nil {
		coll = make(map[string]Point)
		m.points[collection] = coll
	}
	for _, p := range points {
		coll[p.ID] = p
	}
	return nil
}

// DeleteByNote removes every point whose note_id payload matches.
func (m *Memory) DeleteByNote(_ context.Context, collection, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points[collection] {
		if p.Payload["note_id"] == noteID {
			delete(m.points[collection], id)
		}
	}
	return nil
}

// DeleteStale removes a note's points outside keepGen.
func (m *Memory) DeleteStale(_ context.Context, collection, noteID, keepGen string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points[collection] {
		if p.Payload["note_id"] == noteID && p.Payload["generation"] != keepGen {
			delete(m.points[collection], id)
		}
	}
	return nil
}

// Search returns the top-K points by cosine similarity.
func (m *Memory) Search(_ context.Context, collection string, vector []float32, topK uint64) ([]*SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []*SearchResult
	for id, p := range m.points[collection] {
		results = append(results, &SearchResult{
			ID:      id,
			Score:   cosine(vector, p.Vector),
			Payload: p.Payload,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if uint64(len(results)) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of points in a collection.
func (m *Memory) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points[collection])
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
