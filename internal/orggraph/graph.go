// Package orggraph rebuilds an org tree from a report's flat parent pointers
// and rolls headcount and AI-impact metrics up the tree.
package orggraph

import (
	"strings"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/pkg/schema"
)

// Aggregate holds the bottom-up rollup of a subtree.
type Aggregate struct {
	// Headcount is nil only when no node in the subtree reports a headcount.
	Headcount       *float64 `json:"headcount"`
	DescendantCount int      `json:"descendantCount"`
	// Shares are headcount-weighted over nodes that report both values.
	AutomationShare   *float64 `json:"automationShare"`
	AugmentationShare *float64 `json:"augmentationShare"`
}

// Node is one org unit in the arena. Children holds ids in input order.
type Node struct {
	Source    schema.HierarchyNode `json:"source"`
	Parent    string               `json:"parent,omitempty"`
	Children  []string             `json:"children"`
	Depth     int                  `json:"depth"`
	Aggregate Aggregate            `json:"aggregate"`

	acc weights
}

type weights struct {
	autoW, autoH float64
	augW, augH   float64
}

// Graph is an immutable snapshot of a report's org tree. Callers must not
// modify the nodes it returns.
type Graph struct {
	nodes     map[string]*Node
	order     []string
	roots     []string
	roles     []schema.Role
	roleIndex map[string]int
	highlight map[string]bool
	collapsed []string
	issues    []schema.ValidationIssue
}

// Len returns the number of distinct nodes.
func (g *Graph) Len() int { return len(g.order) }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Order returns node ids in input order.
func (g *Graph) Order() []string { return append([]string(nil), g.order...) }

// Roots returns root ids in input order.
func (g *Graph) Roots() []string { return append([]string(nil), g.roots...) }

// Roles returns the report roles backing the lookup.
func (g *Graph) Roles() []schema.Role { return g.roles }

// Role looks up a role by code, normalized title or title, case-insensitively.
func (g *Graph) Role(identifier string) (*schema.Role, bool) {
	key := strings.ToLower(strings.TrimSpace(identifier))
	if key == "" {
		return nil, false
	}
	idx, ok := g.roleIndex[key]
	if !ok {
		idx, ok = g.roleIndex[normalize.Title(identifier)]
	}
	if !ok {
		return nil, false
	}
	return &g.roles[idx], true
}

// Highlighted reports whether a role code or identifier is highlighted.
func (g *Graph) Highlighted(identifier string) bool {
	return g.highlight[strings.ToLower(strings.TrimSpace(identifier))]
}

// CollapsedIDs returns the node ids the report asks to start collapsed.
func (g *Graph) CollapsedIDs() []string { return append([]string(nil), g.collapsed...) }

// Issues returns the data-quality problems found while building.
func (g *Graph) Issues() []schema.ValidationIssue { return g.issues }

// TotalHeadcount sums the root aggregates; nil when no node has a headcount.
func (g *Graph) TotalHeadcount() *float64 {
	var sum float64
	has := false
	for _, id := range g.roots {
		if hc := g.nodes[id].Aggregate.Headcount; hc != nil {
			sum += *hc
			has = true
		}
	}
	if !has {
		return nil
	}
	return &sum
}

// Walk visits nodes depth-first in pre-order, roots and children in input
// order. Returning false from fn skips the node's subtree.
func (g *Graph) Walk(fn func(n *Node) bool) {
	var visit func(id string)
	visit = func(id string) {
		n := g.nodes[id]
		if !fn(n) {
			return
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, r := range g.roots {
		visit(r)
	}
}
