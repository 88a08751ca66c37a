// Package gateway fans the group chat out to external platforms. Each
// platform implements GatewayAdapter; the Bridge translates between
// platform messages and room events.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Gateway is the adapter registry. Inbound messages from every platform
// funnel into one handler; outbound messages are addressed by platform
// name.
type Gateway struct {
	mu       sync.RWMutex
	adapters map[string]GatewayAdapter
	handler  MessageHandler
	logger   *zap.Logger
}

// NewGateway creates an empty gateway.
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{
		adapters: make(map[string]GatewayAdapter),
		logger:   logger,
	}
}

// SetHandler installs the sink for inbound messages. Set it before
// registering adapters.
func (g *Gateway) SetHandler(h MessageHandler) {
	g.handler = h
}

// Register adds an adapter under its platform name and subscribes it to
// the shared inbound handler.
func (g *Gateway) Register(adapter GatewayAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := adapter.Platform()
	g.adapters[name] = adapter
	adapter.OnMessage(func(msg *InboundMessage) {
		if g.handler != nil {
			g.handler(msg)
		}
	})
	g.logger.Info("gateway adapter registered", zap.String("platform", name))
}

// ConnectAll connects every adapter. A failing platform is reported but
// does not stop the others from coming up; the joined error lists every
// platform that failed.
func (g *Gateway) ConnectAll(ctx context.Context) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	for name, adapter := range g.adapters {
		if err := adapter.Connect(ctx); err != nil {
			g.logger.Error("adapter connect failed",
				zap.String("platform", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("connect %s: %w", name, err))
			continue
		}
		g.logger.Info("adapter connected", zap.String("platform", name))
	}
	return errors.Join(errs...)
}

// Send delivers msg on the platform it names.
func (g *Gateway) Send(ctx context.Context, msg *OutboundMessage) error {
	g.mu.RLock()
	adapter, ok := g.adapters[msg.Platform]
	g.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no adapter for platform %q", msg.Platform)
	}
	return adapter.Send(ctx, msg)
}

// Broadcast pushes msg to every adapter, or to msg.Platforms when set.
func (g *Gateway) Broadcast(ctx context.Context, msg *BroadcastMessage) error {
	g.mu.RLock()
	targets := make(map[string]GatewayAdapter, len(g.adapters))
	if len(msg.Platforms) > 0 {
		for _, name := range msg.Platforms {
			if a, ok := g.adapters[name]; ok {
				targets[name] = a
			}
		}
	} else {
		for name, a := range g.adapters {
			targets[name] = a
		}
	}
	g.mu.RUnlock()

	var errs []error
	for name, adapter := range targets {
		if err := adapter.Broadcast(ctx, msg); err != nil {
			g.logger.Error("broadcast failed",
				zap.String("platform", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("broadcast %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close shuts every adapter down.
func (g *Gateway) Close() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error
	for name, adapter := range g.adapters {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Adapters returns the registered platform names.
func (g *Gateway) Adapters() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.adapters))
	for name := range g.adapters {
		names = append(names, name)
	}
	return names
}
