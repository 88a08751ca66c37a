package index

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/vault"
	"github.com/kekehq/keke/internal/vectorstore"
)

// stubEmbedder produces deterministic bag-of-words vectors so similar texts
// score high on cosine without a real model.
type stubEmbedder struct {
	dim  int
	fail bool
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if s.fail {
		return nil, apperr.ErrEmbeddingProvider
	}
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
func (s *stubEmbedder) Version() string { return "stub:v1" }

type fixture struct {
	vault   *vault.Store
	vectors *vectorstore.Memory
	meta    *MemoryMeta
	emb     *stubEmbedder
	ix      *Indexer
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
		meta:    NewMemoryMeta(),
		emb:     &stubEmbedder{dim: 64},
	}
	f.ix = New(v, f.emb, f.vectors, f.meta, SplitterConfig{WindowSize: 200, Overlap: 40}, zap.NewNop())
	if err := f.ix.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return f
}

func (f *fixture) putMemory(t *testing.T, id, body string) {
	t.Helper()
	err := f.vault.Put(context.Background(), &note.Note{
		ID: id, Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium, Body: body,
	})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func TestReindexStoresChunksAndVectors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putMemory(t, "Memory/day_one", strings.Repeat("we cooked dinner together and talked about the trip. ", 20))
	if err := f.ix.Reindex(ctx, "Memory/day_one"); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	chunks := f.meta.Chunks("Memory/day_one")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, c.ChunkIndex)
		}
	}
	if f.vectors.Count(Collection) != len(chunks) {
		t.Errorf("vector count %d != chunk count %d", f.vectors.Count(Collection), len(chunks))
	}
}

func TestReindexReplacesWholeChunkSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putMemory(t, "Memory/trip", strings.Repeat("long original body text about hiking. ", 30))
	if err := f.ix.Reindex(ctx, "Memory/trip"); err != nil {
		t.Fatalf("first reindex: %v", err)
	}
	firstGen := f.meta.Chunks("Memory/trip")[0].Generation

	n, _ := f.vault.Get(ctx, "Memory/trip")
	n.Body = "short new body"
	if err := f.vault.Put(ctx, n); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := f.ix.Reindex(ctx, "Memory/trip"); err != nil {
		t.Fatalf("second reindex: %v", err)
	}

	chunks := f.meta.Chunks("Memory/trip")
	if len(chunks) != 1 {
		t.Fatalf("stale chunks survived: %d", len(chunks))
	}
	if chunks[0].Generation == firstGen {
		t.Error("generation did not advance")
	}
	if f.vectors.Count(Collection) != 1 {
		t.Errorf("stale vectors survived: %d", f.vectors.Count(Collection))
	}
}

func TestEmbeddingFailureLeavesPriorSetIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putMemory(t, "Memory/stable", "a perfectly fine memory about breakfast")
	if err := f.ix.Reindex(ctx, "Memory/stable"); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	before := f.meta.Chunks("Memory/stable")

	n, _ := f.vault.Get(ctx, "Memory/stable")
	n.Body = "changed body that will fail to embed"
	if err := f.vault.Put(ctx, n); err != nil {
		t.Fatalf("update: %v", err)
	}

	f.emb.fail = true
	err := f.ix.Reindex(ctx, "Memory/stable")
	if !errors.Is(err, apperr.ErrEmbeddingProvider) {
		t.Fatalf("expected embedding provider error, got %v", err)
	}

	after := f.meta.Chunks("Memory/stable")
	if len(after) != len(before) || after[0].Content != before[0].Content {
		t.Error("prior chunk set was disturbed by a failed reindex")
	}
}

func TestRemoveLeavesNoOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putMemory(t, "Memory/gone", strings.Repeat("text to be removed entirely. ", 20))
	if err := f.ix.Reindex(ctx, "Memory/gone"); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if err := f.ix.Remove(ctx, "Memory/gone"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := f.meta.Chunks("Memory/gone"); len(got) != 0 {
		t.Errorf("chunk rows survived removal: %d", len(got))
	}
	if f.vectors.Count(Collection) != 0 {
		t.Errorf("embedding records survived removal: %d", f.vectors.Count(Collection))
	}
}

func TestFailureScopedToSingleNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putMemory(t, "Memory/ok", "healthy note body")
	f.putMemory(t, "Memory/doomed", "note that cannot embed")

	f.emb.fail = true
	_ = f.ix.Reindex(ctx, "Memory/doomed")
	f.emb.fail = false

	if err := f.ix.Reindex(ctx, "Memory/ok"); err != nil {
		t.Fatalf("healthy note blocked by another note's failure: %v", err)
	}
	if len(f.meta.Chunks("Memory/ok")) == 0 {
		t.Error("healthy note not indexed")
	}
}

func TestWriteSecondaryDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n := &note.Note{
		ID: "Memory/linked", Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceHigh,
		Tags:       []string{"family"},
		Related:    []string{"Person/sam"},
		Body:       "dinner with [[Person/alex]] at home",
	}
	if err := f.vault.Put(ctx, n); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := f.ix.WriteSecondary(ctx); err != nil {
		t.Fatalf("write secondary: %v", err)
	}

	var tags tagIndex
	readJSON(t, filepath.Join(f.vault.Root(), vault.MetaDir, tagIndexFile), &tags)
	if got := tags.Tags["family"]; len(got) != 1 || got[0] != "Memory/linked" {
		t.Errorf("tag index wrong: %v", tags.Tags)
	}

	var links linkIndex
	readJSON(t, filepath.Join(f.vault.Root(), vault.MetaDir, linkIndexFile), &links)
	refs := links.Links["Memory/linked"]
	if len(refs) != 2 {
		t.Fatalf("link index wrong: %v", refs)
	}

	var timeline timelineIndex
	readJSON(t, filepath.Join(f.vault.Root(), vault.MetaDir, timelineIndexFile), &timeline)
	day := n.Created.Format("2006-01-02")
	if got := timeline.Days[day]; len(got) != 1 {
		t.Errorf("timeline index wrong: %v", timeline.Days)
	}
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}
