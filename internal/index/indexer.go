// Package index maintains the vector index and chunk metadata map over the
// vault, plus the derived secondary index documents.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/embedding"
	"github.com/kekehq/keke/internal/store"
	"github.com/kekehq/keke/internal/vault"
	"github.com/kekehq/keke/internal/vectorstore"
)

// Collection is the Qdrant collection holding vault chunks.
const Collection = "vault_chunks"

// VectorIndex is the subset of the Qdrant client the indexer and retriever
// depend on.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	UpsertBatch(ctx context.Context, collection string, points []vectorstore.Point) error
	DeleteByNote(ctx context.Context, collection, noteID string) error
	DeleteStale(ctx context.Context, collection, noteID, keepGen string) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]*vectorstore.SearchResult, error)
}

// MetaStore is the chunk metadata map behind the index.
type MetaStore interface {
	ReplaceChunks(ctx context.Context, noteID, generation, version string, chunks []store.ChunkRecord) error
	DeleteChunks(ctx context.Context, noteID string) error
	Generations(ctx context.Context, noteIDs []string) (map[string]string, error)
}

// Indexer chunks note bodies, embeds them, and keeps the vector index and
// metadata map in step with the vault.
type Indexer struct {
	vault    *vault.Store
	embedder embedding.Provider
	vectors  VectorIndex
	meta     MetaStore
	splitter SplitterConfig
	logger   *zap.Logger
}

// New creates an Indexer.
func New(v *vault.Store, embedder embedding.Provider, vectors VectorIndex, meta MetaStore, splitter SplitterConfig, logger *zap.Logger) *Indexer {
	return &Indexer{
		vault:    v,
		embedder: embedder,
		vectors:  vectors,
		meta:     meta,
		splitter: splitter,
		logger:   logger,
	}
}

// Init ensures the Qdrant collection exists.
func (ix *Indexer) Init(ctx context.Context) error {
	dim := uint64(ix.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	if err := ix.vectors.EnsureCollection(ctx, Collection, dim); err != nil {
		return fmt.Errorf("init collection %s: %w", Collection, err)
	}
	return nil
}

// Run consumes vault change events until ctx is cancelled. A failure on one
// note never blocks indexing of the next.
func (ix *Indexer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ix.vault.Events():
			var err error
			switch ev.Op {
			case vault.OpPut:
				err = ix.Reindex(ctx, ev.NoteID)
			case vault.OpDelete:
				err = ix.Remove(ctx, ev.NoteID)
			}
			if err != nil {
				ix.logger.Warn("index update failed",
					zap.String("note", ev.NoteID),
					zap.String("op", string(ev.Op)),
					zap.Error(err))
				continue
			}
			if err := ix.WriteSecondary(ctx); err != nil {
				ix.logger.Warn("secondary index write failed", zap.Error(err))
			}
		}
	}
}

// Reindex recomputes one note's chunk set as a single logical transaction:
// the new generation is embedded and upserted first, the metadata map flips
// the generation pointer atomically, and only then are stale points removed.
// Readers observe the prior set or the new set, never a mix. Any failure
// before the flip leaves the prior set intact.
func (ix *Indexer) Reindex(ctx context.Context, noteID string) error {
	n, err := ix.vault.Get(ctx, noteID)
	if err != nil {
		return err
	}

	texts := ix.splitter.Split(n.Body)
	gen := uuid.New().String()

	if len(texts) == 0 {
		return ix.Remove(ctx, noteID)
	}

	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		// Scoped to this note; the prior chunk set stays visible.
		return fmt.Errorf("embed note %s: %w", noteID, err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: note %s: %d vectors for %d chunks",
			apperr.ErrEmbeddingProvider, noteID, len(vecs), len(texts))
	}

	version := ix.embedder.Version()
	points := make([]vectorstore.Point, len(texts))
	records := make([]store.ChunkRecord, len(texts))
	for i, text := range texts {
		id := uuid.New().String()
		points[i] = vectorstore.Point{
			ID:     id,
			Vector: vecs[i],
			Payload: map[string]string{
				"note_id":     noteID,
				"chunk_index": fmt.Sprintf("%d", i),
				"generation":  gen,
				"content":     text,
				"note_type":   string(n.Type),
				"tags":        strings.Join(n.Tags, ","),
				"created":     n.Created.UTC().Format(time.RFC3339),
				"modified":    n.Modified.UTC().Format(time.RFC3339),
				"version":     version,
			},
		}
		records[i] = store.ChunkRecord{
			ID:         id,
			NoteID:     noteID,
			Generation: gen,
			ChunkIndex: i,
			Content:    text,
		}
	}

	if err := ix.vectors.UpsertBatch(ctx, Collection, points); err != nil {
		return fmt.Errorf("upsert note %s: %w", noteID, err)
	}
	if err := ix.meta.ReplaceChunks(ctx, noteID, gen, version, records); err != nil {
		// The new points are unreachable without the generation flip; they
		// are cleaned up by the next successful reindex.
		return fmt.Errorf("flip chunk set for %s: %w", noteID, err)
	}
	if err := ix.vectors.DeleteStale(ctx, Collection, noteID, gen); err != nil {
		ix.logger.Warn("stale point cleanup failed",
			zap.String("note", noteID), zap.Error(err))
	}

	ix.logger.Debug("reindexed note",
		zap.String("note", noteID), zap.Int("chunks", len(texts)))
	return nil
}

// Remove deletes all chunks and embedding records for a note, leaving no
// orphaned references behind.
func (ix *Indexer) Remove(ctx context.Context, noteID string) error {
	if err := ix.meta.DeleteChunks(ctx, noteID); err != nil {
		return fmt.Errorf("remove chunk metadata for %s: %w", noteID, err)
	}
	if err := ix.vectors.DeleteByNote(ctx, Collection, noteID); err != nil {
		return fmt.Errorf("remove points for %s: %w", noteID, err)
	}
	return nil
}

// RebuildAll rescans the whole vault, used for recovery and after splitter
// parameter changes. Notes are processed in parallel; one failing note does
// not stop the rest.
func (ix *Indexer) RebuildAll(ctx context.Context) error {
	notes, err := ix.vault.List(ctx, "", vault.Filter{})
	if err != nil {
		return fmt.Errorf("scan vault: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	var failed atomic.Int64
	for _, n := range notes {
		g.Go(func() error {
			if err := ix.Reindex(gctx, n.ID); err != nil {
				failed.Add(1)
				ix.logger.Warn("rebuild: note failed",
					zap.String("note", n.ID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err := ix.WriteSecondary(ctx); err != nil {
		return err
	}
	ix.logger.Info("rebuild complete",
		zap.Int("notes", len(notes)), zap.Int64("failed", failed.Load()))
	return nil
}
