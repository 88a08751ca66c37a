// Package retrieve answers similarity queries over the indexed vault.
package retrieve

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/embedding"
	"github.com/kekehq/keke/internal/index"
	"github.com/kekehq/keke/internal/note"
)

// DefaultMinScore drops candidates with near-zero similarity. Tuned low so
// short queries still surface context.
const DefaultMinScore = 0.1

// oversample widens the nearest-neighbor search so post-filters and stale
// generations do not starve the final result set.
const oversample = 4

// Filters are metadata predicates applied after the vector search.
type Filters struct {
	Tags          []string
	Types         []note.Type
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Result is one retrieved chunk with its similarity score.
type Result struct {
	ChunkID  string
	NoteID   string
	Content  string
	Score    float32
	NoteType note.Type
	Tags     []string
	Modified time.Time
}

// Retriever embeds queries and searches the vector index, mapping hits back
// to current-generation chunks.
type Retriever struct {
	embedder embedding.Provider
	vectors  index.VectorIndex
	meta     index.MetaStore
	minScore float32
	logger   *zap.Logger
}

// New creates a Retriever. minScore <= 0 selects DefaultMinScore.
func New(embedder embedding.Provider, vectors index.VectorIndex, meta index.MetaStore, minScore float32, logger *zap.Logger) *Retriever {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	return &Retriever{
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
		minScore: minScore,
		logger:   logger,
	}
}

// Query embeds text and returns up to k chunks ranked by descending
// similarity, ties broken by most recent modification. Candidates indexed
// under a different embedding version fail the whole query rather than
// silently degrading recall.
func (r *Retriever) Query(ctx context.Context, text string, k int, filters Filters) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", apperr.ErrValidation)
	}
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", apperr.ErrValidation)
	}

	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.vectors.Search(ctx, index.Collection, vecs[0], uint64(k*oversample))
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	version := r.embedder.Version()
	noteIDs := make([]string, 0, len(hits))
	seen := make(map[string]bool)
	for _, h := range hits {
		if id := h.Payload["note_id"]; id != "" && !seen[id] {
			seen[id] = true
			noteIDs = append(noteIDs, id)
		}
	}
	gens, err := r.meta.Generations(ctx, noteIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve generations: %w", err)
	}

	results := make([]Result, 0, k)
	for _, h := range hits {
		noteID := h.Payload["note_id"]
		// Points from a superseded or interrupted reindex are invisible.
		if h.Payload["generation"] != gens[noteID] {
			continue
		}
		if v := h.Payload["version"]; v != version {
			return nil, fmt.Errorf("%w: index has %q, query uses %q",
				apperr.ErrVersionMismatch, v, version)
		}
		if h.Score < r.minScore {
			continue
		}

		res := Result{
			ChunkID:  h.ID,
			NoteID:   noteID,
			Content:  h.Payload["content"],
			Score:    h.Score,
			NoteType: note.Type(h.Payload["note_type"]),
		}
		if raw := h.Payload["tags"]; raw != "" {
			res.Tags = strings.Split(raw, ",")
		}
		if ts, err := time.Parse(time.RFC3339, h.Payload["modified"]); err == nil {
			res.Modified = ts
		}
		created, _ := time.Parse(time.RFC3339, h.Payload["created"])
		if !matches(res, created, filters) {
			continue
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Modified.Equal(results[j].Modified) {
			return results[i].Modified.After(results[j].Modified)
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}

	r.logger.Debug("retrieval",
		zap.Int("candidates", len(hits)), zap.Int("returned", len(results)))
	return results, nil
}

func matches(res Result, created time.Time, f Filters) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if res.NoteType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Tags) > 0 {
		tagged := make(map[string]bool, len(res.Tags))
		for _, t := range res.Tags {
			tagged[t] = true
		}
		for _, want := range f.Tags {
			if !tagged[want] {
				return false
			}
		}
	}
	if !f.CreatedAfter.IsZero() && created.Before(f.CreatedAfter) {
		return false
	}
	if !f.CreatedBefore.IsZero() && created.After(f.CreatedBefore) {
		return false
	}
	return true
}
