package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/note"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zap.NewNop())
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	return s
}

func memNote(id string) *note.Note {
	return &note.Note{
		ID:         id,
		Type:       note.TypeMemory,
		Created:    time.Now(),
		Importance: note.ImportanceMedium,
		Body:       "walked to the park with Sam",
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now()
	n := memNote("Memory/park_walk")
	n.Tags = []string{"outdoors"}
	if err := s.Put(ctx, n); err != nil {
		t.Fatalf("put: %v", err)
	}
	if n.Modified.Before(before.Truncate(time.Second)) {
		t.Errorf("modified %v not monotonic vs %v", n.Modified, before)
	}

	got, err := s.Get(ctx, "Memory/park_walk")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != note.TypeMemory || got.Importance != note.ImportanceMedium {
		t.Errorf("fields lost: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "outdoors" {
		t.Errorf("tags lost: %v", got.Tags)
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "Memory/nope")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTypeIsImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, memNote("Memory/fixed")); err != nil {
		t.Fatalf("put: %v", err)
	}
	changed := &note.Note{
		ID: "Memory/fixed", Type: note.TypeKnowledge,
		Created: time.Now(), Body: "now knowledge",
	}
	if err := s.Put(ctx, changed); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected Conflict on type change, got %v", err)
	}
}

func TestTaskStatusTransitionEnforced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := &note.Note{
		ID: "Task/report", Type: note.TypeTask,
		Created: time.Now(), Status: note.StatusNotStarted,
	}
	if err := s.Put(ctx, task); err != nil {
		t.Fatalf("put: %v", err)
	}
	task.Status = note.StatusCompleted // not-started -> completed skips in-progress
	if err := s.Put(ctx, task); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected Conflict on illegal transition, got %v", err)
	}
	task.Status = note.StatusInProgress
	if err := s.Put(ctx, task); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
}

func TestDeleteEmitsEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, memNote("Memory/gone")); err != nil {
		t.Fatalf("put: %v", err)
	}
	drainEvents(s)

	if err := s.Delete(ctx, "Memory/gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case ev := <-s.Events():
		if ev.Op != OpDelete || ev.NoteID != "Memory/gone" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no delete event emitted")
	}

	if _, err := s.Get(ctx, "Memory/gone"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("deleted note still readable: %v", err)
	}
}

func TestWalkFilterAndEarlyStop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"Memory/a", "Memory/b", "Memory/c"} {
		n := memNote(id)
		if id == "Memory/b" {
			n.Tags = []string{"special"}
		}
		if err := s.Put(ctx, n); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	var tagged []string
	err := s.Walk(ctx, note.TypeMemory, Filter{Tags: []string{"special"}}, func(n *note.Note) bool {
		tagged = append(tagged, n.ID)
		return true
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(tagged) != 1 || tagged[0] != "Memory/b" {
		t.Errorf("filter walk got %v", tagged)
	}

	seen := 0
	err = s.Walk(ctx, note.TypeMemory, Filter{}, func(n *note.Note) bool {
		seen++
		return false // stop after the first note
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if seen != 1 {
		t.Errorf("early stop visited %d notes", seen)
	}

	// Restartable: a second walk sees the full set again.
	all, err := s.List(ctx, note.TypeMemory, Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("restarted walk saw %d notes, want 3", len(all))
	}
}

func TestPathTraversalRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "../outside")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func drainEvents(s *Store) {
	for {
		select {
		case <-s.Events():
		default:
			return
		}
	}
}
