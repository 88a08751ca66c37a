package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/orchestrator"
	"github.com/kekehq/keke/internal/vault"
)

type echoRunner struct{}

func (echoRunner) Run(_ context.Context, _ string, msg *orchestrator.Message) (string, error) {
	return "echo: " + msg.Content, nil
}

// newTestHandler wires a Handler with lightweight in-memory deps (no
// Postgres/Qdrant/Neo4j/Redis); those routes answer 503.
func newTestHandler(t *testing.T) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	v, err := vault.Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	directory := agent.NewDirectory(agent.NewToolRegistry(), logger)
	room := orchestrator.NewRoom(directory, echoRunner{}, orchestrator.NewMemoryHistory(), logger)
	if err := room.JoinHuman("user"); err != nil {
		t.Fatalf("join human: %v", err)
	}

	h := NewHandler(v, nil, directory, room, nil, nil, nil, nil, nil, "user", logger)
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestHandler(t)
	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("body %v", body)
	}
}

func TestNoteCRUD(t *testing.T) {
	ts := newTestHandler(t)

	n := note.Note{
		ID: "Memory/first_walk", Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium, Tags: []string{"outside"},
		Body: "a long walk in the rain",
	}
	resp := postJSON(t, ts, "/api/notes", n)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/notes/Memory/first_walk")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	var got note.Note
	decodeJSON(t, resp, &got)
	if got.Body != n.Body || len(got.Tags) != 1 {
		t.Errorf("got %+v", got)
	}

	resp = getJSON(t, ts, "/api/notes?type=memory&tag=outside")
	var listed []note.Note
	decodeJSON(t, resp, &listed)
	if len(listed) != 1 {
		t.Errorf("listed %d notes", len(listed))
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/notes/Memory/first_walk", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d", resp.StatusCode)
	}

	resp = getJSON(t, ts, "/api/notes/Memory/first_walk")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status %d", resp.StatusCode)
	}
}

func TestListNotesModifiedAfter(t *testing.T) {
	ts := newTestHandler(t)

	resp := postJSON(t, ts, "/api/notes", note.Note{
		ID: "Memory/old_walk", Type: note.TypeMemory, Created: time.Now(),
		Importance: note.ImportanceMedium, Body: "an older memory",
	})
	resp.Body.Close()

	cutoff := time.Now().Add(time.Second).UTC().Format(time.RFC3339)

	resp = getJSON(t, ts, "/api/notes?type=memory&modified_after="+cutoff)
	var listed []note.Note
	decodeJSON(t, resp, &listed)
	if len(listed) != 0 {
		t.Errorf("future cutoff listed %d notes", len(listed))
	}

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	resp = getJSON(t, ts, "/api/notes?type=memory&modified_after="+past)
	decodeJSON(t, resp, &listed)
	if len(listed) != 1 {
		t.Errorf("past cutoff listed %d notes, want 1", len(listed))
	}

	resp = getJSON(t, ts, "/api/notes?modified_after=yesterday")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad timestamp status %d, want 400", resp.StatusCode)
	}
}

func TestNoteValidationStatus(t *testing.T) {
	ts := newTestHandler(t)
	resp := postJSON(t, ts, "/api/notes", note.Note{Type: note.TypeMemory})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing id status %d", resp.StatusCode)
	}
}

func TestSpawnChatAndRetire(t *testing.T) {
	ts := newTestHandler(t)

	resp := postJSON(t, ts, "/api/agents", spawnRequest{
		Kind: "servant", Prompt: "you are keke", Handle: "keke",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("spawn status %d", resp.StatusCode)
	}
	var desc agent.Descriptor
	decodeJSON(t, resp, &desc)
	if desc.ID == "" {
		t.Fatal("no agent id")
	}

	resp = postJSON(t, ts, "/api/chat", chatRequest{Content: "@keke hello"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("chat status %d", resp.StatusCode)
	}
	var msg orchestrator.Message
	decodeJSON(t, resp, &msg)
	if len(msg.Receivers) != 1 || msg.Receivers[0] != "keke" {
		t.Errorf("receivers %v", msg.Receivers)
	}

	// History holds at least the posted message.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp = getJSON(t, ts, "/api/chat/history?limit=10")
		var entries []json.RawMessage
		decodeJSON(t, resp, &entries)
		if len(entries) >= 1 || time.Now().After(deadline) {
			if len(entries) < 1 {
				t.Fatal("no history entries")
			}
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Agent goes idle shortly after the echo reply; then retire succeeds.
	deadline = time.Now().Add(2 * time.Second)
	for {
		resp = postJSON(t, ts, "/api/chat/retire/keke", nil)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			break
		}
		if resp.StatusCode != http.StatusConflict || time.Now().After(deadline) {
			t.Fatalf("retire status %d", resp.StatusCode)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp = postJSON(t, ts, "/api/chat", chatRequest{Content: "@keke anyone"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("post to retired status %d", resp.StatusCode)
	}
}

func TestSpawnValidation(t *testing.T) {
	ts := newTestHandler(t)
	resp := postJSON(t, ts, "/api/agents", spawnRequest{Kind: "wizard", Prompt: "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown kind status %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/agents", spawnRequest{
		Kind: "task", Prompt: "x", Knowledge: "Knowledge/secret",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("task with knowledge status %d", resp.StatusCode)
	}
}

func TestScheduleEndpoints(t *testing.T) {
	ts := newTestHandler(t)

	resp := postJSON(t, ts, "/api/agents", spawnRequest{
		Kind: "servant", Prompt: "keke", Handle: "keke",
	})
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/schedules", scheduleRequest{
		Receiver: "keke", Content: "check in later", AfterSecs: 3600,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("schedule status %d", resp.StatusCode)
	}
	var created map[string]string
	decodeJSON(t, resp, &created)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/schedules/"+created["id"], nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status %d", resp.StatusCode)
	}

	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("double cancel status %d", resp.StatusCode)
	}
}

func TestUnwiredComponentsAnswer503(t *testing.T) {
	ts := newTestHandler(t)
	for _, path := range []string{
		"/api/search?q=test",
		"/api/graph/neighbors/sam",
		"/api/calendar/reminders",
	} {
		resp := getJSON(t, ts, path)
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status %d", path, resp.StatusCode)
		}
	}
	resp := postJSON(t, ts, "/api/reflect", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("reflect status %d", resp.StatusCode)
	}
}
