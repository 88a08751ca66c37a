package provider

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubProvider struct {
	id     string
	models []string
	err    error
	calls  int
}

func (s *stubProvider) ID() string       { return s.id }
func (s *stubProvider) Models() []string { return s.models }

func (s *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: "from " + s.id}, nil
}

func TestRoutePrefersProviderServingModel(t *testing.T) {
	r := NewRouter(zap.NewNop())
	general := &stubProvider{id: "general"}
	claude := &stubProvider{id: "claude", models: []string{"claude-sonnet-4"}}
	r.Register(general)
	r.Register(claude)

	resp, err := r.Route(context.Background(), &ChatRequest{Model: "claude-sonnet-4"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "from claude" {
		t.Errorf("got %q, want the model's own backend", resp.Content)
	}
	if general.calls != 0 {
		t.Errorf("general backend called %d times, want 0", general.calls)
	}
}

func TestRouteFailsOver(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "primary", models: []string{"gpt-4o"}, err: errors.New("down")}
	backup := &stubProvider{id: "backup"}
	r.Register(primary)
	r.Register(backup)

	resp, err := r.Route(context.Background(), &ChatRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("got %q, want the backup's reply", resp.Content)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1", primary.calls)
	}
}

func TestRouteAllBackendsDown(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "a", err: errors.New("down")})
	r.Register(&stubProvider{id: "b", err: errors.New("also down")})

	_, err := r.Route(context.Background(), &ChatRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected an error when every backend fails")
	}
}

func TestRouteNoProviders(t *testing.T) {
	r := NewRouter(zap.NewNop())
	if _, err := r.Route(context.Background(), &ChatRequest{Model: "gpt-4o"}); err == nil {
		t.Fatal("expected an error with no registered backends")
	}
}
