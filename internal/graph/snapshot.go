package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const snapshotFile = "graph.json"

type snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Nodes       []Node    `json:"nodes"`
	Links       []Link    `json:"links"`
}

// WriteSnapshot exports the whole graph as a derived document under dir.
// The write is atomic so readers never see a partial file.
func (g *Graph) WriteSnapshot(ctx context.Context, dir string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (p:Person) RETURN p.id, p.groups ORDER BY p.id`, nil)
	if err != nil {
		return fmt.Errorf("snapshot nodes: %w", err)
	}
	snap := snapshot{GeneratedAt: time.Now().UTC()}
	for result.Next(ctx) {
		rec := result.Record()
		n := Node{}
		if s, ok := rec.Values[0].(string); ok {
			n.ID = s
		}
		if raw, ok := rec.Values[1].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					n.Groups = append(n.Groups, s)
				}
			}
		}
		snap.Nodes = append(snap.Nodes, n)
	}

	result, err = session.Run(ctx,
		`MATCH (a:Person)-[r:LINKED]->(b:Person)
		 RETURN a.id, b.id, r.strength, r.types, r.updated_at
		 ORDER BY a.id, b.id`, nil)
	if err != nil {
		return fmt.Errorf("snapshot links: %w", err)
	}
	for result.Next(ctx) {
		snap.Links = append(snap.Links, recordToLink(result.Record()))
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	path := filepath.Join(dir, snapshotFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit snapshot: %w", err)
	}

	g.logger.Debug("graph snapshot written",
		zap.Int("nodes", len(snap.Nodes)), zap.Int("links", len(snap.Links)))
	return nil
}
