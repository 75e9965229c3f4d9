package diagram

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderImage renders a DiagramModel as a PNG image using graphviz.
func RenderImage(ctx context.Context, model *DiagramModel) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: create graphviz: %w", err)
	}
	defer gv.Close()

	gv.SetLayout(graphviz.DOT)

	graph, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: create graph: %w", err)
	}
	defer graph.Close()

	if model.Direction == "LR" {
		graph.SetRankDir(cgraph.LRRank)
	} else {
		graph.SetRankDir(cgraph.TBRank)
	}
	if model.Title != "" {
		graph.SetLabel(model.Title)
	}

	gvNodes := make(map[string]*cgraph.Node, len(model.Nodes))
	for _, node := range model.Nodes {
		gvNode, nErr := graph.CreateNodeByName(node.ID)
		if nErr != nil {
			return nil, fmt.Errorf("diagram: create node %s: %w", node.ID, nErr)
		}
		gvNode.SetLabel(imageLabel(node))
		applyNodeStyle(gvNode, node)
		gvNodes[node.ID] = gvNode
	}

	for _, edge := range model.Edges {
		fromGV, toGV := gvNodes[edge.From], gvNodes[edge.To]
		if fromGV != nil && toGV != nil {
			if _, eErr := graph.CreateEdgeByName("", fromGV, toGV); eErr != nil {
				return nil, fmt.Errorf("diagram: create edge %s->%s: %w", edge.From, edge.To, eErr)
			}
		}
	}

	var buf bytes.Buffer
	if err := gv.Render(ctx, graph, graphviz.PNG, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render PNG: %w", err)
	}

	return buf.Bytes(), nil
}

func imageLabel(node *Node) string {
	lines := []string{node.Label}
	if node.Metrics != "" {
		lines = append(lines, node.Metrics)
	}
	if node.Kind == NodeKindContainer {
		for _, g := range node.Groups {
			lines = append(lines, "["+g.Label+"]")
			lines = append(lines, g.Roles...)
		}
	} else {
		lines = append(lines, node.Roles...)
	}
	return strings.Join(lines, "\n")
}

// applyNodeStyle sets graphviz attributes based on node kind and highlight.
func applyNodeStyle(gvNode *cgraph.Node, node *Node) {
	gvNode.SetShape(cgraph.BoxShape)
	if node.Kind == NodeKindContainer {
		gvNode.SetStyle(cgraph.DashedNodeStyle)
	}
	if node.Highlighted {
		gvNode.SetStyle(cgraph.FilledNodeStyle)
		gvNode.SetFillColor("#b7791a")
		gvNode.SetFontColor("white")
	}
}
