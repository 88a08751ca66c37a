// Package tools registers the built-in capability catalog agents draw
// their dispatch tables from. Each tool takes a JSON argument object and
// returns a plain-text result the model can read back.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/graph"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/retrieve"
	"github.com/kekehq/keke/internal/vault"
)

const searchTopK = 5

// Register installs the built-in tools on the catalog. Nil retriever or
// graph skips the tools that need them, so a degraded boot still gets the
// vault tools.
func Register(cat *agent.ToolRegistry, v *vault.Store, r *retrieve.Retriever, g *graph.Graph, logger *zap.Logger) {
	cat.Register(agent.Tool{
		Name:        "read_note",
		Description: "Read a note by id, e.g. {\"id\": \"Memory/first_walk\"}.",
	}, func(ctx context.Context, args string) (string, error) {
		var in struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("parse read_note args: %w", err)
		}
		n, err := v.Get(ctx, in.ID)
		if err != nil {
			return "", err
		}
		return n.Body, nil
	})

	cat.Register(agent.Tool{
		Name:        "create_task",
		Description: "Create a task note: {\"title\": ..., \"body\": ..., \"due\": RFC3339, \"tags\": [...]}.",
	}, func(ctx context.Context, args string) (string, error) {
		var in struct {
			Title string   `json:"title"`
			Body  string   `json:"body"`
			Due   string   `json:"due,omitempty"`
			Tags  []string `json:"tags,omitempty"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("parse create_task args: %w", err)
		}
		n := &note.Note{
			ID:      vault.NoteID(note.TypeTask, in.Title),
			Type:    note.TypeTask,
			Created: time.Now(),
			Tags:    in.Tags,
			Status:  note.StatusNotStarted,
			Body:    in.Body,
		}
		if in.Due != "" {
			due, err := time.Parse(time.RFC3339, in.Due)
			if err != nil {
				return "", fmt.Errorf("parse due date: %w", err)
			}
			n.Due = &due
		}
		if err := v.Put(ctx, n); err != nil {
			return "", err
		}
		return "created " + n.ID, nil
	})

	cat.Register(agent.Tool{
		Name:        "save_memory",
		Description: "Record a memory note: {\"title\": ..., \"body\": ..., \"people\": [...], \"tags\": [...]}.",
	}, func(ctx context.Context, args string) (string, error) {
		var in struct {
			Title  string   `json:"title"`
			Body   string   `json:"body"`
			People []string `json:"people,omitempty"`
			Tags   []string `json:"tags,omitempty"`
		}
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("parse save_memory args: %w", err)
		}
		n := &note.Note{
			ID:         vault.NoteID(note.TypeMemory, in.Title),
			Type:       note.TypeMemory,
			Created:    time.Now(),
			Tags:       in.Tags,
			People:     in.People,
			Importance: note.ImportanceMedium,
			Body:       in.Body,
		}
		if err := v.Put(ctx, n); err != nil {
			return "", err
		}
		return "saved " + n.ID, nil
	})

	if r != nil {
		cat.Register(agent.Tool{
			Name:        "vault_search",
			Description: "Semantic search over the vault: {\"query\": ..., \"tags\": [...]}.",
		}, func(ctx context.Context, args string) (string, error) {
			var in struct {
				Query string   `json:"query"`
				Tags  []string `json:"tags,omitempty"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("parse vault_search args: %w", err)
			}
			hits, err := r.Query(ctx, in.Query, searchTopK, retrieve.Filters{Tags: in.Tags})
			if err != nil {
				return "", err
			}
			if len(hits) == 0 {
				return "no results", nil
			}
			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "[%s] %s\n", h.NoteID, h.Content)
			}
			return b.String(), nil
		})
	} else {
		logger.Info("retriever unavailable, vault_search tool not registered")
	}

	if g != nil {
		cat.Register(agent.Tool{
			Name:        "link_people",
			Description: "Strengthen a relationship link: {\"a\": ..., \"b\": ..., \"types\": [...], \"strength\": 0..1}.",
		}, func(ctx context.Context, args string) (string, error) {
			var in struct {
				A        string   `json:"a"`
				B        string   `json:"b"`
				Types    []string `json:"types,omitempty"`
				Strength float64  `json:"strength"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("parse link_people args: %w", err)
			}
			err := g.UpsertLink(ctx, in.A, in.B, graph.LinkAttrs{
				RelationshipTypes: in.Types,
				Strength:          in.Strength,
			})
			if err != nil {
				return "", err
			}
			return "linked", nil
		})

		cat.Register(agent.Tool{
			Name:        "list_neighbors",
			Description: "List a person's relationship links: {\"id\": ...}.",
		}, func(ctx context.Context, args string) (string, error) {
			var in struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("parse list_neighbors args: %w", err)
			}
			links, err := g.Neighbors(ctx, in.ID)
			if err != nil {
				return "", err
			}
			if len(links) == 0 {
				return "no links", nil
			}
			var b strings.Builder
			for _, l := range links {
				fmt.Fprintf(&b, "%s <-> %s (%s, %.2f)\n",
					l.A, l.B, strings.Join(l.RelationshipTypes, ","), l.Strength)
			}
			return b.String(), nil
		})
	} else {
		logger.Info("graph unavailable, relationship tools not registered")
	}
}
