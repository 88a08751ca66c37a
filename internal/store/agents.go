package store

import (
	"context"
	"fmt"

	"github.com/kekehq/keke/internal/agent"
)

// SaveAgent upserts an agent descriptor. The busy flag is deliberately not
// persisted: it is runtime state owned by the orchestrator, and every agent
// restarts idle.
func (s *Store) SaveAgent(ctx context.Context, d *agent.Descriptor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agents (id, kind, system_prompt, tool_set, attached_knowledge, lifecycle, published, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			system_prompt = EXCLUDED.system_prompt,
			tool_set = EXCLUDED.tool_set,
			attached_knowledge = EXCLUDED.attached_knowledge,
			lifecycle = EXCLUDED.lifecycle,
			published = EXCLUDED.published,
			updated_at = EXCLUDED.updated_at`,
		d.ID, string(d.Kind), d.SystemPrompt, d.ToolSet, d.AttachedKnowledge,
		string(d.Lifecycle), d.Published, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", d.ID, err)
	}
	return nil
}

// ListAgents returns all non-retired agent descriptors.
func (s *Store) ListAgents(ctx context.Context) ([]*agent.Descriptor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, kind, system_prompt, tool_set, COALESCE(attached_knowledge,''), lifecycle, published, created_at, updated_at
		FROM agents WHERE lifecycle != 'retired'
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*agent.Descriptor
	for rows.Next() {
		var d agent.Descriptor
		var kind, lifecycle string
		if err := rows.Scan(
			&d.ID, &kind, &d.SystemPrompt, &d.ToolSet, &d.AttachedKnowledge,
			&lifecycle, &d.Published, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		d.Kind = agent.Kind(kind)
		d.Lifecycle = agent.Lifecycle(lifecycle)
		agents = append(agents, &d)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent row entirely. Normal retirement goes through
// SaveAgent with lifecycle=retired; this is for administrative cleanup.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete agent %s: %w", id, err)
	}
	return nil
}
