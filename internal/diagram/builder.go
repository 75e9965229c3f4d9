package diagram

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/orgflow"
)

// Build converts a laid-out chart into a DiagramModel. Levels follow the
// layout's layers, ordered along the primary axis.
func Build(c *chart.Chart) *DiagramModel {
	model := &DiagramModel{
		Title:     c.Title,
		Direction: string(c.Direction),
		Nodes:     make([]*Node, 0, len(c.Nodes)),
		Edges:     make([]Edge, 0, len(c.Edges)),
	}

	for _, n := range c.Nodes {
		model.Nodes = append(model.Nodes, flowToNode(n))
	}
	for _, e := range c.Edges {
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target})
	}
	model.Levels = buildLevels(c.Nodes, c.Direction)
	return model
}

func flowToNode(n orgflow.Node) *Node {
	node := &Node{
		ID:          n.ID,
		Label:       n.Data.Label,
		Kind:        NodeKindOrg,
		Metrics:     metrics(n.Data),
		Highlighted: n.Data.IsHighlighted,
	}
	for _, r := range n.Data.Roles {
		node.Roles = append(node.Roles, roleLine(r))
	}
	if n.Kind == orgflow.KindDenseRoleContainer {
		node.Kind = NodeKindContainer
		var cur *RoleGroup
		for _, d := range n.Data.DenseRoles {
			if cur == nil || cur.ID != d.GroupID {
				cur = &RoleGroup{ID: d.GroupID, Label: d.GroupLabel}
				node.Groups = append(node.Groups, cur)
			}
			cur.Roles = append(cur.Roles, roleLine(d.RoleRef))
			node.Roles = append(node.Roles, roleLine(d.RoleRef))
		}
	}
	return node
}

func roleLine(r orgflow.RoleRef) string {
	line := r.Title
	if r.OnetCode != "" {
		line += " (" + r.OnetCode + ")"
	}
	if r.IsHighlighted {
		line = "* " + line
	}
	return line
}

func metrics(d orgflow.NodeData) string {
	var parts []string
	if d.Headcount != nil {
		parts = append(parts, fmt.Sprintf("%s people", formatCount(*d.Headcount)))
	}
	if d.AutomationShare != nil {
		parts = append(parts, fmt.Sprintf("%.0f%% automation", *d.AutomationShare*100))
	}
	if d.AugmentationShare != nil {
		parts = append(parts, fmt.Sprintf("%.0f%% augmentation", *d.AugmentationShare*100))
	}
	return strings.Join(parts, ", ")
}

func formatCount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

// buildLevels groups node IDs by layout layer, ordered by position.
func buildLevels(nodes []orgflow.Node, dir orgflow.Direction) [][]string {
	byLayer := make(map[int][]orgflow.Node)
	maxLayer := -1
	for _, n := range nodes {
		byLayer[n.Layout.Layer] = append(byLayer[n.Layout.Layer], n)
		maxLayer = max(maxLayer, n.Layout.Layer)
	}

	levels := make([][]string, 0, maxLayer+1)
	for l := 0; l <= maxLayer; l++ {
		members := byLayer[l]
		if len(members) == 0 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return primary(members[i], dir) < primary(members[j], dir)
		})
		ids := make([]string, len(members))
		for i, n := range members {
			ids[i] = n.ID
		}
		levels = append(levels, ids)
	}
	return levels
}

func primary(n orgflow.Node, dir orgflow.Direction) float64 {
	if n.Layout.Position == nil {
		return 0
	}
	if dir == orgflow.DirectionLR {
		return n.Layout.Position.Y
	}
	return n.Layout.Position.X
}
