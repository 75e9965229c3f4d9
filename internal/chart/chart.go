// Package chart runs one render pass over a report: normalization, graph
// building, flow modelling and layout.
package chart

import (
	"fmt"

	"github.com/rendis/orgimpact/internal/layout"
	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/internal/orgflow"
	"github.com/rendis/orgimpact/internal/orggraph"
	"github.com/rendis/orgimpact/pkg/schema"
)

// Options combine the flow-model and layout options of a render.
type Options struct {
	MaxRolesPerNode  int
	DenseGrouping    bool
	Direction        orgflow.Direction
	CollapsedNodeIDs []string
	ExpandedNodeIDs  []string
	HighlightRoleIDs []string
	NodeGap          float64
	LayerGap         float64

	// AutoCollapse, when set, is asked about every non-root node; accepted
	// nodes are pruned with their subtrees unless listed in ExpandedNodeIDs.
	AutoCollapse func(n *orggraph.Node) bool
}

// Chart is a positioned, render-ready org chart.
type Chart struct {
	Title     string                   `json:"title"`
	Direction orgflow.Direction        `json:"direction"`
	Nodes     []orgflow.Node           `json:"nodes"`
	Edges     []orgflow.Edge           `json:"edges"`
	Width     float64                  `json:"width"`
	Height    float64                  `json:"height"`
	Stats     Stats                    `json:"stats"`
	Issues    []schema.ValidationIssue `json:"issues,omitempty"`
}

// Stats summarises the chart for headers and listings.
type Stats struct {
	HierarchyNodes    int      `json:"hierarchyNodes"`
	Roots             int      `json:"roots"`
	MaxDepth          int      `json:"maxDepth"`
	RenderedNodes     int      `json:"renderedNodes"`
	Containers        int      `json:"containers"`
	Roles             int      `json:"roles"`
	TotalHeadcount    *float64 `json:"totalHeadcount"`
	AutomationShare   *float64 `json:"automationShare"`
	AugmentationShare *float64 `json:"augmentationShare"`
}

// Render builds a chart from report. The report is normalized first and is
// not modified. Errors come only from invalid options.
func Render(report *schema.OrgReport, opts Options) (*Chart, error) {
	r := normalize.Report(report)
	g := orggraph.Build(r)

	collapsed := opts.CollapsedNodeIDs
	if opts.AutoCollapse != nil {
		collapsed = append(append([]string(nil), collapsed...), autoCollapsed(g, opts.AutoCollapse)...)
	}

	model, err := orgflow.Build(g, orgflow.Options{
		MaxRolesPerNode:  opts.MaxRolesPerNode,
		DenseGrouping:    opts.DenseGrouping,
		Direction:        opts.Direction,
		CollapsedNodeIDs: collapsed,
		ExpandedNodeIDs:  opts.ExpandedNodeIDs,
		HighlightRoleIDs: opts.HighlightRoleIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("build flow model: %w", err)
	}

	nodes, err := layout.Apply(model.Nodes, model.Edges, layout.Options{
		Direction: model.Direction,
		NodeGap:   opts.NodeGap,
		LayerGap:  opts.LayerGap,
	})
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}

	c := &Chart{
		Title:     r.Metadata.CompanyName,
		Direction: model.Direction,
		Nodes:     nodes,
		Edges:     model.Edges,
		Issues:    g.Issues(),
	}
	c.Width, c.Height = layout.Bounds(nodes)
	c.Stats = stats(g, nodes)
	return c, nil
}

func autoCollapsed(g *orggraph.Graph, match func(n *orggraph.Node) bool) []string {
	var ids []string
	g.Walk(func(n *orggraph.Node) bool {
		if n.Parent != "" && match(n) {
			ids = append(ids, n.Source.ID)
			return false
		}
		return true
	})
	return ids
}

func stats(g *orggraph.Graph, nodes []orgflow.Node) Stats {
	s := Stats{
		HierarchyNodes: g.Len(),
		Roots:          len(g.Roots()),
		RenderedNodes:  len(nodes),
		Roles:          len(g.Roles()),
		TotalHeadcount: g.TotalHeadcount(),
	}
	g.Walk(func(n *orggraph.Node) bool {
		s.MaxDepth = max(s.MaxDepth, n.Depth)
		return true
	})
	for _, n := range nodes {
		if n.Kind == orgflow.KindDenseRoleContainer {
			s.Containers++
		}
	}

	var autoW, autoH, augW, augH float64
	for _, id := range g.Roots() {
		n, _ := g.Node(id)
		hc := n.Aggregate.Headcount
		if hc == nil || *hc <= 0 {
			continue
		}
		if a := n.Aggregate.AutomationShare; a != nil {
			autoW += *a * *hc
			autoH += *hc
		}
		if a := n.Aggregate.AugmentationShare; a != nil {
			augW += *a * *hc
			augH += *hc
		}
	}
	if autoH > 0 {
		s.AutomationShare = schema.Ptr(autoW / autoH)
	}
	if augH > 0 {
		s.AugmentationShare = schema.Ptr(augW / augH)
	}
	return s
}
