// Package graph maintains the relationship graph over people and groups,
// backed by Neo4j.
package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
)

// StrengthCombinator merges an existing link strength with an incoming one.
// It is supplied by the caller so scoring policy stays out of the storage
// layer.
type StrengthCombinator func(existing, incoming float64) float64

// DefaultStrength keeps the stronger of the two values.
func DefaultStrength(existing, incoming float64) float64 {
	if incoming > existing {
		return incoming
	}
	return existing
}

// Node is a person or group vertex.
type Node struct {
	ID         string            `json:"id"`
	Groups     []string          `json:"groups,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Link is an undirected edge between two nodes, stored in canonical order.
type Link struct {
	A                 string    `json:"a"`
	B                 string    `json:"b"`
	RelationshipTypes []string  `json:"relationship_types"`
	Strength          float64   `json:"strength"` // 0-1
	UpdatedAt         time.Time `json:"updated_at"`
}

// LinkAttrs carries the incoming attributes for an upsert.
type LinkAttrs struct {
	RelationshipTypes []string
	Strength          float64
}

// Graph manages relationship nodes and links stored in Neo4j.
type Graph struct {
	driver  neo4j.DriverWithContext
	combine StrengthCombinator
	logger  *zap.Logger
}

// New creates a Graph. A nil combinator selects DefaultStrength.
func New(driver neo4j.DriverWithContext, combine StrengthCombinator, logger *zap.Logger) *Graph {
	if combine == nil {
		combine = DefaultStrength
	}
	return &Graph{
		driver:  driver,
		combine: combine,
		logger:  logger,
	}
}

// Close releases the underlying driver.
func (g *Graph) Close(ctx context.Context) error {
	if g.driver == nil {
		return nil
	}
	return g.driver.Close(ctx)
}

// Canonical orders an endpoint pair so the same undirected link always maps
// to one stored edge.
func Canonical(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// UnionTypes merges two relationship-type sets, sorted for stable storage.
func UnionTypes(existing, incoming []string) []string {
	set := make(map[string]bool, len(existing)+len(incoming))
	for _, t := range existing {
		set[t] = true
	}
	for _, t := range incoming {
		set[t] = true
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// UpsertNode creates or updates a vertex.
func (g *Graph) UpsertNode(ctx context.Context, node Node) error {
	if node.ID == "" {
		return fmt.Errorf("%w: node id required", apperr.ErrValidation)
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	attrs := make(map[string]interface{}, len(node.Attributes))
	for k, v := range node.Attributes {
		attrs[k] = v
	}
	_, err := session.Run(ctx,
		`MERGE (p:Person {id: $id})
		 SET p.groups = $groups, p += $attrs, p.updated_at = datetime()`,
		map[string]interface{}{
			"id":     node.ID,
			"groups": node.Groups,
			"attrs":  attrs,
		})
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.ID, err)
	}
	return nil
}

// UpsertLink creates or updates the undirected link between a and b. The
// relationship-type set is merged as a union and strength is recomputed by
// the combinator against the stored value, never silently overwritten.
func (g *Graph) UpsertLink(ctx context.Context, a, b string, attrs LinkAttrs) error {
	if a == "" || b == "" {
		return fmt.Errorf("%w: both endpoints required", apperr.ErrValidation)
	}
	if a == b {
		return fmt.Errorf("%w: self links are not allowed", apperr.ErrValidation)
	}
	lo, hi := Canonical(a, b)

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx,
			`MATCH (a:Person {id: $a})-[r:LINKED]->(b:Person {id: $b})
			 RETURN r.strength, r.types`,
			map[string]interface{}{"a": lo, "b": hi})
		if err != nil {
			return nil, err
		}

		strength := attrs.Strength
		types := UnionTypes(nil, attrs.RelationshipTypes)
		if result.Next(ctx) {
			rec := result.Record()
			if prev, ok := rec.Values[0].(float64); ok {
				strength = g.combine(prev, attrs.Strength)
			}
			var prevTypes []string
			if raw, ok := rec.Values[1].([]interface{}); ok {
				for _, v := range raw {
					if s, ok := v.(string); ok {
						prevTypes = append(prevTypes, s)
					}
				}
			}
			types = UnionTypes(prevTypes, attrs.RelationshipTypes)
		}

		_, err = tx.Run(ctx,
			`MERGE (a:Person {id: $a})
			 MERGE (b:Person {id: $b})
			 MERGE (a)-[r:LINKED]->(b)
			 SET r.strength = $strength, r.types = $types, r.updated_at = datetime()`,
			map[string]interface{}{
				"a":        lo,
				"b":        hi,
				"strength": strength,
				"types":    types,
			})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("upsert link %s-%s: %w", lo, hi, err)
	}
	return nil
}

// RemoveNode deletes a vertex and every incident link.
func (g *Graph) RemoveNode(ctx context.Context, id string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (p:Person {id: $id}) DETACH DELETE p`,
		map[string]interface{}{"id": id})
	if err != nil {
		return fmt.Errorf("remove node %s: %w", id, err)
	}
	return nil
}

// Neighbors returns every link incident to id, regardless of stored
// direction.
func (g *Graph) Neighbors(ctx context.Context, id string) ([]Link, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (p:Person {id: $id})-[r:LINKED]-(other:Person)
		 RETURN p.id, other.id, r.strength, r.types, r.updated_at
		 ORDER BY other.id`,
		map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", id, err)
	}

	var links []Link
	for result.Next(ctx) {
		links = append(links, recordToLink(result.Record()))
	}
	return links, nil
}

// Subgraph returns the nodes in a group and the links among them.
func (g *Graph) Subgraph(ctx context.Context, group string) ([]Node, []Link, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (p:Person) WHERE $group IN p.groups
		 RETURN p.id, p.groups ORDER BY p.id`,
		map[string]interface{}{"group": group})
	if err != nil {
		return nil, nil, fmt.Errorf("subgraph nodes for %s: %w", group, err)
	}
	var nodes []Node
	inGroup := make(map[string]bool)
	for result.Next(ctx) {
		rec := result.Record()
		n := Node{ID: rec.Values[0].(string)}
		if raw, ok := rec.Values[1].([]interface{}); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok {
					n.Groups = append(n.Groups, s)
				}
			}
		}
		nodes = append(nodes, n)
		inGroup[n.ID] = true
	}

	result, err = session.Run(ctx,
		`MATCH (a:Person)-[r:LINKED]->(b:Person)
		 WHERE $group IN a.groups AND $group IN b.groups
		 RETURN a.id, b.id, r.strength, r.types, r.updated_at
		 ORDER BY a.id, b.id`,
		map[string]interface{}{"group": group})
	if err != nil {
		return nil, nil, fmt.Errorf("subgraph links for %s: %w", group, err)
	}
	var links []Link
	for result.Next(ctx) {
		l := recordToLink(result.Record())
		if inGroup[l.A] && inGroup[l.B] {
			links = append(links, l)
		}
	}
	return nodes, links, nil
}

func recordToLink(rec *neo4j.Record) Link {
	l := Link{}
	if s, ok := rec.Values[0].(string); ok {
		l.A = s
	}
	if s, ok := rec.Values[1].(string); ok {
		l.B = s
	}
	l.A, l.B = Canonical(l.A, l.B)
	if f, ok := rec.Values[2].(float64); ok {
		l.Strength = f
	}
	if raw, ok := rec.Values[3].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				l.RelationshipTypes = append(l.RelationshipTypes, s)
			}
		}
	}
	if t, ok := rec.Values[4].(time.Time); ok {
		l.UpdatedAt = t
	}
	return l
}
