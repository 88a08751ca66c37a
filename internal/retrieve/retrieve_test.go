package retrieve

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/index"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/store"
	"github.com/kekehq/keke/internal/vault"
	"github.com/kekehq/keke/internal/vectorstore"
)

type stubEmbedder struct {
	dim     int
	version string
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, s.dim)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			v[h.Sum32()%uint32(s.dim)]++
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int  { return s.dim }
func (s *stubEmbedder) Version() string { return s.version }

type fixture struct {
	vault   *vault.Store
	vectors *vectorstore.Memory
	meta    *index.MemoryMeta
	emb     *stubEmbedder
	ix      *index.Indexer
	ret     *Retriever
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := vault.Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	f := &fixture{
		vault:   v,
		vectors: vectorstore.NewMemory(),
		meta:    index.NewMemoryMeta(),
		emb:     &stubEmbedder{dim: 64, version: "stub:v1"},
	}
	f.ix = index.New(v, f.emb, f.vectors, f.meta, index.SplitterConfig{WindowSize: 400, Overlap: 50}, zap.NewNop())
	if err := f.ix.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	f.ret = New(f.emb, f.vectors, f.meta, 0.01, zap.NewNop())
	return f
}

func (f *fixture) index(t *testing.T, n *note.Note) {
	t.Helper()
	if err := f.vault.Put(context.Background(), n); err != nil {
		t.Fatalf("put %s: %v", n.ID, err)
	}
	if err := f.ix.Reindex(context.Background(), n.ID); err != nil {
		t.Fatalf("reindex %s: %v", n.ID, err)
	}
}

func TestQueryReturnsIndexedChunk(t *testing.T) {
	f := newFixture(t)
	f.index(t, &note.Note{
		ID: "Memory/picnic", Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium,
		Body:       "we had a picnic by the river with fresh strawberries",
	})
	f.index(t, &note.Note{
		ID: "Knowledge/compilers", Type: note.TypeKnowledge, Created: time.Now(),
		Importance: note.ImportanceLow,
		Body:       "register allocation uses graph coloring heuristics",
	})

	results, err := f.ret.Query(context.Background(), "picnic by the river", 5, Filters{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].NoteID != "Memory/picnic" {
		t.Errorf("top result %s, want Memory/picnic", results[0].NoteID)
	}
	if !strings.Contains(results[0].Content, "picnic") {
		t.Errorf("content %q does not contain the query phrase", results[0].Content)
	}
}

func TestQueryDeterministicOrdering(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"Memory/a", "Memory/b", "Memory/c"} {
		f.index(t, &note.Note{
			ID: id, Type: note.TypeMemory, Created: time.Now(),
			Importance: note.ImportanceMedium,
			Body:       "a walk in the park with the dog",
		})
	}

	first, err := f.ret.Query(context.Background(), "walk in the park", 3, Filters{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := f.ret.Query(context.Background(), "walk in the park", 3, Filters{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("result count changed: %d vs %d", len(again), len(first))
		}
		for j := range again {
			if again[j].ChunkID != first[j].ChunkID {
				t.Fatalf("ordering changed at position %d", j)
			}
		}
	}
}

func TestQueryPostFilters(t *testing.T) {
	f := newFixture(t)
	old := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	f.index(t, &note.Note{
		ID: "Memory/tagged", Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium, Tags: []string{"family", "dinner"},
		Body: "sunday dinner with the whole family",
	})
	f.index(t, &note.Note{
		ID: "Memory/untagged", Type: note.TypeMemory, Created: old,
		Importance: note.ImportanceMedium,
		Body:       "sunday dinner alone at the diner",
	})

	results, err := f.ret.Query(context.Background(), "sunday dinner", 10, Filters{Tags: []string{"family"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, r := range results {
		if r.NoteID != "Memory/tagged" {
			t.Errorf("tag filter leaked %s", r.NoteID)
		}
	}

	results, err = f.ret.Query(context.Background(), "sunday dinner", 10, Filters{
		CreatedAfter: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, r := range results {
		if r.NoteID == "Memory/untagged" {
			t.Error("date filter leaked the old note")
		}
	}

	results, err = f.ret.Query(context.Background(), "sunday dinner", 10, Filters{Types: []note.Type{note.TypeKnowledge}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("type filter leaked %d results", len(results))
	}
}

func TestQueryVersionMismatchFailsFast(t *testing.T) {
	f := newFixture(t)
	f.index(t, &note.Note{
		ID: "Memory/stale_model", Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium,
		Body:       "indexed under the old embedding model",
	})

	f.emb.version = "stub:v2"
	_, err := f.ret.Query(context.Background(), "old embedding model", 5, Filters{})
	if !errors.Is(err, apperr.ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestQueryIgnoresStaleGenerations(t *testing.T) {
	f := newFixture(t)
	f.index(t, &note.Note{
		ID: "Memory/rewritten", Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium,
		Body:       "the original text before the rewrite",
	})

	// Simulate a crash between upsert and the generation flip: metadata
	// advances to a new generation the points do not carry.
	err := f.meta.ReplaceChunks(context.Background(), "Memory/rewritten", "newer-gen", f.emb.Version(), []store.ChunkRecord{})
	if err != nil {
		t.Fatalf("flip: %v", err)
	}

	results, err := f.ret.Query(context.Background(), "original text before", 5, Filters{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, r := range results {
		if r.NoteID == "Memory/rewritten" {
			t.Error("stale-generation point surfaced in results")
		}
	}
}

func TestQueryValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ret.Query(context.Background(), "  ", 5, Filters{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("blank query: got %v", err)
	}
	if _, err := f.ret.Query(context.Background(), "hello", 0, Filters{}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("zero k: got %v", err)
	}
}
