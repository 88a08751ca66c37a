package note

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kekehq/keke/internal/apperr"
)

func TestRenderParseRoundTrip(t *testing.T) {
	created := time.Date(2025, 3, 14, 9, 30, 0, 0, time.Local)
	due := created.Add(48 * time.Hour)
	n := &Note{
		ID:       "Task/ship_report",
		Type:     TypeTask,
		Created:  created,
		Modified: created,
		Tags:     []string{"work", "q1"},
		Related:  []string{"Person/alex"},
		Body:     "# Ship the report\n\nSend it to Alex before Friday.\n",
		Due:      &due,
		Status:   StatusInProgress,
		Priority: "high",
		Assigned: "keke",
	}

	data, err := n.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got.ID = n.ID

	if got.Type != TypeTask || got.Status != StatusInProgress || got.Priority != "high" {
		t.Errorf("task fields lost: %+v", got)
	}
	if !got.Created.Equal(created) || got.Due == nil || !got.Due.Equal(due) {
		t.Errorf("timestamps lost: created=%v due=%v", got.Created, got.Due)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "work" {
		t.Errorf("tags lost: %v", got.Tags)
	}
	if !strings.Contains(got.Body, "Send it to Alex") {
		t.Errorf("body lost: %q", got.Body)
	}
}

func TestParseMissingFrontmatter(t *testing.T) {
	_, err := Parse([]byte("just a body, no header\n"))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestQuickNoteBooleansSurvive(t *testing.T) {
	now := time.Now()
	n := &Note{
		ID: "QuickNote/groceries", Type: TypeQuickNote,
		Created: now, Modified: now,
		Color: "yellow", Pinned: true, Archived: false, DisplayMode: "card",
		Body: "milk, eggs",
	}
	data, err := n.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(data), "pinned: true") {
		t.Fatalf("pinned not rendered:\n%s", data)
	}
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Pinned || got.Archived {
		t.Errorf("booleans lost: pinned=%v archived=%v", got.Pinned, got.Archived)
	}
}

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusNotStarted, StatusInProgress, true},
		{StatusNotStarted, StatusDeferred, true},
		{StatusNotStarted, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusDeferred, true},
		{StatusDeferred, StatusInProgress, true},
		{StatusDeferred, StatusCompleted, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusCompleted, StatusCompleted, true},
	}
	for _, c := range cases {
		if got := ValidTransition(c.from, c.to); got != c.ok {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestValidatePerType(t *testing.T) {
	now := time.Now()
	base := Note{ID: "Memory/x", Created: now, Modified: now}

	mem := base
	mem.Type = TypeMemory
	if err := mem.Validate(); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("memory without importance should fail, got %v", err)
	}
	mem.Importance = ImportanceHigh
	if err := mem.Validate(); err != nil {
		t.Errorf("valid memory rejected: %v", err)
	}

	task := base
	task.ID = "Task/x"
	task.Type = TypeTask
	task.Status = "done" // not a vault status
	if err := task.Validate(); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad task status should fail, got %v", err)
	}
	task.Status = StatusNotStarted
	if err := task.Validate(); err != nil {
		t.Errorf("valid task rejected: %v", err)
	}
}
