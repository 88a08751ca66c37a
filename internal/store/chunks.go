package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kekehq/keke/internal/apperr"
)

// ChunkRecord is one row of the chunk metadata map. The vector itself lives
// in Qdrant; rows here carry the authoritative generation so readers can
// tell current chunks from stale ones.
type ChunkRecord struct {
	ID         string
	NoteID     string
	Generation string
	ChunkIndex int
	Content    string
	CreatedAt  time.Time
}

// NoteIndexState records which chunk generation and embedding version are
// current for a note.
type NoteIndexState struct {
	NoteID     string
	Generation string
	Version    string
	ChunkCount int
	UpdatedAt  time.Time
}

// ReplaceChunks swaps a note's chunk set in one transaction: the old rows go,
// the new generation comes in, and the note_index pointer flips. Readers see
// either the prior set or the new set, never a mix.
func (s *Store) ReplaceChunks(ctx context.Context, noteID, generation, version string, chunks []ChunkRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace chunks: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("clear chunks for %s: %w", noteID, err)
	}
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, note_id, generation, chunk_index, content)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, noteID, generation, c.ChunkIndex, c.Content,
		); err != nil {
			return fmt.Errorf("insert chunk %d for %s: %w", c.ChunkIndex, noteID, err)
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO note_index (note_id, generation, embedding_version, chunk_count, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (note_id) DO UPDATE SET
			generation = EXCLUDED.generation,
			embedding_version = EXCLUDED.embedding_version,
			chunk_count = EXCLUDED.chunk_count,
			updated_at = EXCLUDED.updated_at`,
		noteID, generation, version, len(chunks),
	); err != nil {
		return fmt.Errorf("flip generation for %s: %w", noteID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace chunks for %s: %w", noteID, err)
	}
	return nil
}

// DeleteChunks removes every chunk row and the index pointer for a note.
func (s *Store) DeleteChunks(ctx context.Context, noteID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete chunks: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", noteID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM note_index WHERE note_id = $1`, noteID); err != nil {
		return fmt.Errorf("delete index state for %s: %w", noteID, err)
	}
	return tx.Commit(ctx)
}

// GetChunks returns the current chunk rows for a note in chunk order.
func (s *Store) GetChunks(ctx context.Context, noteID string) ([]ChunkRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, note_id, generation, chunk_index, content, created_at
		FROM chunks WHERE note_id = $1 ORDER BY chunk_index`, noteID)
	if err != nil {
		return nil, fmt.Errorf("get chunks for %s: %w", noteID, err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var c ChunkRecord
		if err := rows.Scan(&c.ID, &c.NoteID, &c.Generation, &c.ChunkIndex, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// IndexState returns the current generation/version for a note.
func (s *Store) IndexState(ctx context.Context, noteID string) (*NoteIndexState, error) {
	var st NoteIndexState
	err := s.db.QueryRow(ctx, `
		SELECT note_id, generation, embedding_version, chunk_count, updated_at
		FROM note_index WHERE note_id = $1`, noteID).
		Scan(&st.NoteID, &st.Generation, &st.Version, &st.ChunkCount, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("index state for %s: %w", noteID, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index state for %s: %w", noteID, err)
	}
	return &st, nil
}

// Generations returns the current generation per note for the given ids.
// Used by the retriever to drop hits from superseded chunk sets.
func (s *Store) Generations(ctx context.Context, noteIDs []string) (map[string]string, error) {
	if len(noteIDs) == 0 {
		return map[string]string{}, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT note_id, generation FROM note_index WHERE note_id = ANY($1)`, noteIDs)
	if err != nil {
		return nil, fmt.Errorf("load generations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(noteIDs))
	for rows.Next() {
		var id, gen string
		if err := rows.Scan(&id, &gen); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out[id] = gen
	}
	return out, rows.Err()
}

// OrphanedChunks returns chunk ids whose note_index pointer is gone.
// Referential integrity check used by tests and the rebuild pass.
func (s *Store) OrphanedChunks(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT c.id FROM chunks c
		LEFT JOIN note_index ni ON ni.note_id = c.note_id
		WHERE ni.note_id IS NULL OR ni.generation <> c.generation`)
	if err != nil {
		return nil, fmt.Errorf("find orphaned chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
