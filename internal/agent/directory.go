// Package agent tracks the pool of conversational, task, API, and dev agents:
// their capabilities, lifecycle, and busy state.
package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
)

// Kind enumerates agent roles.
type Kind string

const (
	KindServant Kind = "servant"
	KindTask    Kind = "task"
	KindAPI     Kind = "api"
	KindDev     Kind = "dev"
)

// Lifecycle is the outer agent state machine. Spawn validates and seats
// the agent in one step, so agents are active from birth until retired.
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "active"
	LifecycleRetired Lifecycle = "retired"
)

// Descriptor describes one agent. The orchestrator exclusively owns the
// authoritative Busy flag; agents never mutate their own descriptor.
type Descriptor struct {
	ID                string    `json:"agent_id"`
	Kind              Kind      `json:"kind"`
	SystemPrompt      string    `json:"system_prompt"`
	ToolSet           []string  `json:"tool_set"`
	AttachedKnowledge string    `json:"attached_knowledge,omitempty"`
	Lifecycle         Lifecycle `json:"lifecycle"`
	Busy              bool      `json:"busy"`
	Published         bool      `json:"published"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Persister saves directory changes outside the process.
type Persister interface {
	SaveAgent(ctx context.Context, d *Descriptor) error
	DeleteAgent(ctx context.Context, id string) error
}

// Directory is the in-memory agent registry, the authority on lifecycle and
// busy state.
type Directory struct {
	mu        sync.RWMutex
	agents    map[string]*Descriptor
	tools     map[string]*ToolRegistry // per-agent dispatch table, built at spawn
	catalog   *ToolRegistry            // all known tool handlers
	persister Persister
	logger    *zap.Logger
}

// NewDirectory creates an empty directory drawing tools from catalog.
func NewDirectory(catalog *ToolRegistry, logger *zap.Logger) *Directory {
	return &Directory{
		agents:  make(map[string]*Descriptor),
		tools:   make(map[string]*ToolRegistry),
		catalog: catalog,
		logger:  logger,
	}
}

// SetPersister wires optional external persistence.
func (d *Directory) SetPersister(p Persister) { d.persister = p }

// Spawn creates a new idle agent with a capability-indexed dispatch table
// built from the named tools. Task agents are stateless and poolable, so an
// attached knowledge reference is rejected for them.
func (d *Directory) Spawn(ctx context.Context, kind Kind, prompt string, tools []string, knowledge string) (*Descriptor, error) {
	switch kind {
	case KindServant, KindTask, KindAPI, KindDev:
	default:
		return nil, fmt.Errorf("%w: unknown agent kind %q", apperr.ErrValidation, kind)
	}
	if kind == KindTask && knowledge != "" {
		return nil, fmt.Errorf("%w: task agents carry no knowledge reference", apperr.ErrValidation)
	}

	reg := NewToolRegistry()
	for _, name := range tools {
		def, handler, ok := d.catalog.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown tool %q", apperr.ErrValidation, name)
		}
		reg.Register(def, handler)
	}

	now := time.Now()
	desc := &Descriptor{
		ID:                uuid.New().String(),
		Kind:              kind,
		SystemPrompt:      prompt,
		ToolSet:           append([]string(nil), tools...),
		AttachedKnowledge: knowledge,
		Lifecycle:         LifecycleActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	d.mu.Lock()
	d.agents[desc.ID] = desc
	d.tools[desc.ID] = reg
	d.mu.Unlock()

	if d.persister != nil {
		if err := d.persister.SaveAgent(ctx, desc); err != nil {
			d.logger.Warn("persist spawned agent failed",
				zap.String("agent", desc.ID), zap.Error(err))
		}
	}
	d.logger.Info("spawned agent",
		zap.String("id", desc.ID), zap.String("kind", string(kind)))
	return desc.copy(), nil
}

// Restore re-registers a persisted descriptor, e.g. at boot.
func (d *Directory) Restore(desc *Descriptor) {
	reg := NewToolRegistry()
	for _, name := range desc.ToolSet {
		if def, handler, ok := d.catalog.Lookup(name); ok {
			reg.Register(def, handler)
		}
	}
	d.mu.Lock()
	d.agents[desc.ID] = desc.copy()
	d.tools[desc.ID] = reg
	d.mu.Unlock()
}

// Get returns a copy of the descriptor.
func (d *Directory) Get(id string) (*Descriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	return desc.copy(), nil
}

// Tools returns the agent's dispatch table.
func (d *Directory) Tools(id string) (*ToolRegistry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	reg, ok := d.tools[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	return reg, nil
}

// List returns all non-retired agents sorted by creation time.
func (d *Directory) List() []*Descriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Descriptor, 0, len(d.agents))
	for _, a := range d.agents {
		if a.Lifecycle != LifecycleRetired {
			out = append(out, a.copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Retire moves an idle agent to the retired state. Retiring a busy agent
// fails with Conflict; callers wait for idle or cancel first.
func (d *Directory) Retire(ctx context.Context, id string) error {
	d.mu.Lock()
	desc, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	if desc.Busy {
		d.mu.Unlock()
		return fmt.Errorf("%w: agent %s is busy", apperr.ErrConflict, id)
	}
	if desc.Lifecycle == LifecycleRetired {
		d.mu.Unlock()
		return fmt.Errorf("%w: agent %s already retired", apperr.ErrConflict, id)
	}
	desc.Lifecycle = LifecycleRetired
	desc.UpdatedAt = time.Now()
	saved := desc.copy()
	d.mu.Unlock()

	if d.persister != nil {
		if err := d.persister.SaveAgent(ctx, saved); err != nil {
			d.logger.Warn("persist retired agent failed",
				zap.String("agent", id), zap.Error(err))
		}
	}
	d.logger.Info("retired agent", zap.String("id", id))
	return nil
}

// Publish freezes an API agent after its manual review gate. Published API
// agents are immutable; publishing any other kind fails.
func (d *Directory) Publish(ctx context.Context, id string) error {
	d.mu.Lock()
	desc, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	if desc.Kind != KindAPI {
		d.mu.Unlock()
		return fmt.Errorf("%w: only api agents are published", apperr.ErrValidation)
	}
	desc.Published = true
	desc.UpdatedAt = time.Now()
	saved := desc.copy()
	d.mu.Unlock()

	if d.persister != nil {
		if err := d.persister.SaveAgent(ctx, saved); err != nil {
			d.logger.Warn("persist published agent failed",
				zap.String("agent", id), zap.Error(err))
		}
	}
	return nil
}

// UpdatePrompt replaces an agent's system prompt. Published API agents are
// immutable and reject the change with Conflict.
func (d *Directory) UpdatePrompt(ctx context.Context, id, prompt string) error {
	d.mu.Lock()
	desc, ok := d.agents[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("agent %s: %w", id, apperr.ErrNotFound)
	}
	if desc.Kind == KindAPI && desc.Published {
		d.mu.Unlock()
		return fmt.Errorf("%w: api agent %s is published and immutable", apperr.ErrConflict, id)
	}
	desc.SystemPrompt = prompt
	desc.UpdatedAt = time.Now()
	saved := desc.copy()
	d.mu.Unlock()

	if d.persister != nil {
		if err := d.persister.SaveAgent(ctx, saved); err != nil {
			d.logger.Warn("persist agent prompt failed",
				zap.String("agent", id), zap.Error(err))
		}
	}
	return nil
}

// MarkBusy flips the busy flag. Only the orchestrator calls this; it reports
// whether the flip happened (false when the agent was already in that state
// or is unknown/retired).
func (d *Directory) MarkBusy(id string, busy bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.agents[id]
	if !ok || desc.Lifecycle == LifecycleRetired || desc.Busy == busy {
		return false
	}
	desc.Busy = busy
	return true
}

// IsRetired reports whether the agent is gone from the pool.
func (d *Directory) IsRetired(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.agents[id]
	return !ok || desc.Lifecycle == LifecycleRetired
}

func (desc *Descriptor) copy() *Descriptor {
	c := *desc
	c.ToolSet = append([]string(nil), desc.ToolSet...)
	return &c
}
