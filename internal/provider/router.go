package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router owns the registered backends and picks one per request. A request
// goes to the first backend that serves its model name; when the pick
// fails, the remaining backends are tried in registration order so a dead
// provider degrades service instead of stopping it.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string // registration order, also the failover order
	logger    *zap.Logger
}

// NewRouter creates an empty router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds a backend. Re-registering an ID replaces the backend but
// keeps its position in the failover order.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; !ok {
		r.order = append(r.order, p.ID())
	}
	r.providers[p.ID()] = p
	r.logger.Info("registered provider",
		zap.String("id", p.ID()),
		zap.Strings("models", p.Models()))
}

// Route runs req against the backend serving req.Model, failing over to
// the other backends when it errors. ctx cancellation stops the failover
// chain.
func (r *Router) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	candidates := r.candidates(req.Model)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no provider registered for model %q", req.Model)
	}

	var lastErr error
	for _, p := range candidates {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		r.logger.Warn("provider chat failed",
			zap.String("provider", p.ID()),
			zap.String("model", req.Model),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("all %d providers failed for model %q: %w", len(candidates), req.Model, lastErr)
}

// candidates orders backends for a model: those that list it first, then
// the rest in registration order.
func (r *Router) candidates(model string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var serving, rest []Provider
	for _, id := range r.order {
		p := r.providers[id]
		if serves(p, model) {
			serving = append(serving, p)
		} else {
			rest = append(rest, p)
		}
	}
	return append(serving, rest...)
}

func serves(p Provider, model string) bool {
	models := p.Models()
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}
