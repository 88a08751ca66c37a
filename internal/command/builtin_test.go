package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/orchestrator"
)

type stubRoom struct {
	handles    []string
	scheduled  []string
	lastSender string
	lastDelay  time.Duration
}

func (s *stubRoom) Handles() []string { return s.handles }

func (s *stubRoom) Schedule(_ context.Context, sender, receiver, content string, trig orchestrator.Trigger) (string, error) {
	s.lastSender = sender
	s.lastDelay = trig.After
	id := "sched-" + receiver
	s.scheduled = append(s.scheduled, id)
	return id, nil
}

func (s *stubRoom) CancelScheduled(_ context.Context, id string) error {
	for i, v := range s.scheduled {
		if v == id {
			s.scheduled = append(s.scheduled[:i], s.scheduled[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *stubRoom) ScheduledIDs() []string { return s.scheduled }

type stubDirectory []*agent.Descriptor

func (s stubDirectory) List() []*agent.Descriptor { return s }

type stubNotes map[string]*note.Note

func (s stubNotes) Get(_ context.Context, id string) (*note.Note, error) {
	return s[id], nil
}

func builtinFixture() (*Registry, *stubRoom) {
	reg := NewRegistry()
	room := &stubRoom{handles: []string{"user", "keke"}}
	dir := stubDirectory{
		{ID: "a1", Kind: agent.KindServant, Lifecycle: agent.LifecycleActive},
	}
	notes := stubNotes{
		"memory/walk": {ID: "memory/walk", Type: note.TypeMemory, Body: "a long walk"},
	}
	RegisterBuiltins(reg, dir, room, notes, nil, "user")
	return reg, room
}

func TestHelpListsEverything(t *testing.T) {
	reg, _ := builtinFixture()
	res, err := reg.Dispatch(context.Background(), "/help", &CommandContext{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	for _, name := range []string{"/agents", "/who", "/note", "/schedule", "/cancel"} {
		if !strings.Contains(res.Content, name) {
			t.Errorf("help missing %s:\n%s", name, res.Content)
		}
	}
	// No searcher registered, so /search is absent.
	if strings.Contains(res.Content, "/search") {
		t.Error("help lists /search without a searcher")
	}
}

func TestWhoListsHandles(t *testing.T) {
	reg, _ := builtinFixture()
	res, err := reg.Dispatch(context.Background(), "/who", &CommandContext{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(res.Content, "@keke") || !strings.Contains(res.Content, "@user") {
		t.Errorf("got %q", res.Content)
	}
}

func TestScheduleParsesDelay(t *testing.T) {
	reg, room := builtinFixture()
	res, err := reg.Dispatch(context.Background(), "/schedule @keke 90m check the oven", &CommandContext{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if room.lastDelay != 90*time.Minute {
		t.Errorf("delay %v", room.lastDelay)
	}
	if room.lastSender != "user" {
		t.Errorf("sender %q", room.lastSender)
	}
	if !strings.Contains(res.Content, "sched-keke") {
		t.Errorf("got %q", res.Content)
	}

	res, _ = reg.Dispatch(context.Background(), "/schedule keke soon hi", &CommandContext{})
	if !strings.Contains(res.Content, "Bad delay") {
		t.Errorf("got %q", res.Content)
	}

	res, _ = reg.Dispatch(context.Background(), "/schedule keke", &CommandContext{})
	if !strings.Contains(res.Content, "Usage") {
		t.Errorf("got %q", res.Content)
	}
}

func TestNoteCommand(t *testing.T) {
	reg, _ := builtinFixture()
	res, err := reg.Dispatch(context.Background(), "/note memory/walk", &CommandContext{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.Contains(res.Content, "a long walk") {
		t.Errorf("got %q", res.Content)
	}
}

func TestCancelRemovesSchedule(t *testing.T) {
	reg, room := builtinFixture()
	reg.Dispatch(context.Background(), "/schedule keke 5m ping", &CommandContext{})
	if len(room.scheduled) != 1 {
		t.Fatalf("scheduled %v", room.scheduled)
	}
	if _, err := reg.Dispatch(context.Background(), "/cancel sched-keke", &CommandContext{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(room.scheduled) != 0 {
		t.Errorf("still scheduled %v", room.scheduled)
	}
}
