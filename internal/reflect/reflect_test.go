package reflect

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/vault"
)

type memoryMarks struct {
	mu    sync.Mutex
	marks map[string]time.Time
}

func newMemoryMarks() *memoryMarks {
	return &memoryMarks{marks: make(map[string]time.Time)}
}

func (m *memoryMarks) Watermark(_ context.Context, name string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marks[name], nil
}

func (m *memoryMarks) SetWatermark(_ context.Context, name string, mark time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[name] = mark
	return nil
}

type fakeSummarizer struct {
	mu     sync.Mutex
	calls  [][]string // note ids per call
	out    []*note.Note
	err    error
}

func (f *fakeSummarizer) Summarize(_ context.Context, memories []*note.Note) ([]*note.Note, error) {
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	f.mu.Lock()
	f.calls = append(f.calls, ids)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newVault(t *testing.T) *vault.Store {
	t.Helper()
	v, err := vault.Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	return v
}

func putMemory(t *testing.T, v *vault.Store, id, body string) {
	t.Helper()
	err := v.Put(context.Background(), &note.Note{
		ID: id, Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium, Body: body,
	})
	if err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func TestRunOnceCommitsAndAdvances(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	putMemory(t, v, "Memory/monday", "learned that sam prefers tea")

	sum := &fakeSummarizer{out: []*note.Note{
		{ID: "Knowledge/sam_preferences", Type: note.TypeKnowledge, Created: time.Now(),
			Importance: note.ImportanceMedium, Body: "Sam prefers tea over coffee."},
		{ID: "Task/buy_tea", Type: note.TypeTask, Created: time.Now(),
			Importance: note.ImportanceLow, Status: note.StatusNotStarted, Body: "Buy green tea."},
	}}
	marks := newMemoryMarks()
	s := New(v, sum, marks, zap.NewNop())

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := v.Get(ctx, "Knowledge/sam_preferences"); err != nil {
		t.Errorf("knowledge note not committed: %v", err)
	}
	if _, err := v.Get(ctx, "Task/buy_tea"); err != nil {
		t.Errorf("task note not committed: %v", err)
	}

	// Second run sees nothing new.
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := sum.callCount(); got != 1 {
		t.Errorf("summarizer called %d times, want 1", got)
	}
}

func TestSummarizerFailureLeavesWatermark(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	putMemory(t, v, "Memory/tuesday", "a rough day at work")

	sum := &fakeSummarizer{err: errors.New("model unavailable")}
	marks := newMemoryMarks()
	s := New(v, sum, marks, zap.NewNop())

	if err := s.RunOnce(ctx); err == nil {
		t.Fatal("expected failure")
	}
	if mark, _ := marks.Watermark(ctx, watermarkName); !mark.IsZero() {
		t.Error("watermark advanced despite failure")
	}
	// Nothing was committed.
	notes, err := v.List(ctx, note.TypeKnowledge, vault.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("partial output committed: %d notes", len(notes))
	}

	// Retry after recovery processes the same memories (at least once).
	sum.err = nil
	sum.out = []*note.Note{{
		ID: "Knowledge/work", Type: note.TypeKnowledge, Created: time.Now(),
		Importance: note.ImportanceMedium, Body: "Work has been stressful lately.",
	}}
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := sum.callCount(); got != 2 {
		t.Fatalf("summarizer calls %d", got)
	}
	sum.mu.Lock()
	secondBatch := sum.calls[1]
	sum.mu.Unlock()
	if len(secondBatch) != 1 || secondBatch[0] != "Memory/tuesday" {
		t.Errorf("retry batch %v", secondBatch)
	}
}

func TestCompletedTasksUntouched(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()

	done := &note.Note{
		ID: "Task/water_plants", Type: note.TypeTask, Created: time.Now().Add(-48 * time.Hour),
		Importance: note.ImportanceLow, Status: note.StatusNotStarted, Body: "Water the plants.",
	}
	if err := v.Put(ctx, done); err != nil {
		t.Fatalf("put task: %v", err)
	}
	done.Status = note.StatusInProgress
	if err := v.Put(ctx, done); err != nil {
		t.Fatalf("start task: %v", err)
	}
	done.Status = note.StatusCompleted
	if err := v.Put(ctx, done); err != nil {
		t.Fatalf("complete task: %v", err)
	}

	putMemory(t, v, "Memory/wednesday", "thought about the plants again")
	sum := &fakeSummarizer{out: []*note.Note{{
		ID: "Task/water_plants", Type: note.TypeTask, Created: time.Now(),
		Importance: note.ImportanceLow, Status: note.StatusNotStarted, Body: "Water the plants again.",
	}}}
	s := New(v, sum, newMemoryMarks(), zap.NewNop())

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := v.Get(ctx, "Task/water_plants")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != note.StatusCompleted {
		t.Errorf("completed task reopened: %s", got.Status)
	}
}

func TestRejectedUpdateDoesNotWedgeRun(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()

	started := &note.Note{
		ID: "Task/fix_fence", Type: note.TypeTask, Created: time.Now().Add(-24 * time.Hour),
		Importance: note.ImportanceLow, Status: note.StatusNotStarted, Body: "Fix the garden fence.",
	}
	if err := v.Put(ctx, started); err != nil {
		t.Fatalf("put task: %v", err)
	}
	started.Status = note.StatusInProgress
	if err := v.Put(ctx, started); err != nil {
		t.Fatalf("start task: %v", err)
	}

	putMemory(t, v, "Memory/thursday", "fence work is ongoing")
	// The summarizer regresses the started task, which the vault rejects,
	// alongside a knowledge note it accepts.
	sum := &fakeSummarizer{out: []*note.Note{
		{ID: "Knowledge/fence", Type: note.TypeKnowledge, Created: time.Now(),
			Importance: note.ImportanceMedium, Body: "The fence needs new posts."},
		{ID: "Task/fix_fence", Type: note.TypeTask, Created: time.Now(),
			Importance: note.ImportanceLow, Status: note.StatusNotStarted, Body: "Fix the garden fence."},
	}}
	marks := newMemoryMarks()
	s := New(v, sum, marks, zap.NewNop())

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := v.Get(ctx, "Knowledge/fence"); err != nil {
		t.Errorf("accepted note not committed: %v", err)
	}
	got, err := v.Get(ctx, "Task/fix_fence")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != note.StatusInProgress {
		t.Errorf("task status = %s, want the regression rejected", got.Status)
	}
	if mark, _ := marks.Watermark(ctx, watermarkName); mark.IsZero() {
		t.Error("watermark did not advance past the rejected update")
	}

	// Next run must not chew the same memories again.
	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := sum.callCount(); got != 1 {
		t.Errorf("summarizer called %d times, want 1", got)
	}
}

func TestEmptyRunAdvancesWatermark(t *testing.T) {
	v := newVault(t)
	ctx := context.Background()
	sum := &fakeSummarizer{}
	marks := newMemoryMarks()
	s := New(v, sum, marks, zap.NewNop())

	if err := s.RunOnce(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if mark, _ := marks.Watermark(ctx, watermarkName); mark.IsZero() {
		t.Error("empty run should still advance the watermark")
	}
	if sum.callCount() != 0 {
		t.Error("summarizer called with no memories")
	}
}
