// Package layout assigns canvas positions to flow-model nodes using a
// longest-path layered layout.
package layout

import (
	"github.com/rendis/orgimpact/internal/orgflow"
)

// Default gaps in canvas pixels.
const (
	DefaultNodeGap  = 32.0
	DefaultLayerGap = 96.0
)

// Options control the layered layout.
type Options struct {
	Direction orgflow.Direction
	// NodeGap separates neighbours within a layer; zero means DefaultNodeGap.
	NodeGap float64
	// LayerGap separates consecutive layers; zero means DefaultLayerGap.
	LayerGap float64
}

// Apply places every node. A node's layer is its longest-path distance from a
// node without incoming edges; nodes caught in a cycle are placed in layer 0.
// Within a layer nodes keep their input order and are packed along the
// primary axis (x for TB, y for LR) with NodeGap between them, and each layer
// is centred on the widest one. Consecutive layers are separated by the
// largest cross-axis size in the previous layer plus LayerGap.
//
// Edges referencing unknown nodes are ignored. The returned nodes are copies;
// the inputs are not modified. Identical inputs always yield identical output.
func Apply(nodes []orgflow.Node, edges []orgflow.Edge, opts Options) ([]orgflow.Node, error) {
	if opts.Direction == "" {
		opts.Direction = orgflow.DirectionTB
	}
	if err := opts.Direction.Validate(); err != nil {
		return nil, err
	}
	if opts.NodeGap <= 0 {
		opts.NodeGap = DefaultNodeGap
	}
	if opts.LayerGap <= 0 {
		opts.LayerGap = DefaultLayerGap
	}

	out := make([]orgflow.Node, len(nodes))
	copy(out, nodes)
	if len(out) == 0 {
		return out, nil
	}

	layerOf := assignLayers(out, edges)

	var layers [][]int
	for i, l := range layerOf {
		for len(layers) <= l {
			layers = append(layers, nil)
		}
		layers[l] = append(layers[l], i)
	}

	lr := opts.Direction == orgflow.DirectionLR
	primary := func(n orgflow.Node) float64 {
		if lr {
			return n.Layout.PreferredHeight
		}
		return n.Layout.PreferredWidth
	}
	cross := func(n orgflow.Node) float64 {
		if lr {
			return n.Layout.PreferredWidth
		}
		return n.Layout.PreferredHeight
	}

	spans := make([]float64, len(layers))
	var widest float64
	for l, members := range layers {
		for k, i := range members {
			if k > 0 {
				spans[l] += opts.NodeGap
			}
			spans[l] += primary(out[i])
		}
		widest = max(widest, spans[l])
	}

	var offset float64
	for l, members := range layers {
		pos := (widest - spans[l]) / 2
		var depth float64
		for _, i := range members {
			p := &orgflow.Point{X: pos, Y: offset}
			if lr {
				p = &orgflow.Point{X: offset, Y: pos}
			}
			out[i].Layout.Position = p
			out[i].Layout.Layer = l
			pos += primary(out[i]) + opts.NodeGap
			depth = max(depth, cross(out[i]))
		}
		offset += depth + opts.LayerGap
	}
	return out, nil
}

// assignLayers runs Kahn's algorithm over the edges, pushing each node one
// layer below its deepest predecessor.
func assignLayers(nodes []orgflow.Node, edges []orgflow.Edge) []int {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; !dup {
			index[n.ID] = i
		}
	}

	succ := make([][]int, len(nodes))
	indeg := make([]int, len(nodes))
	for _, e := range edges {
		s, ok := index[e.Source]
		if !ok {
			continue
		}
		t, ok := index[e.Target]
		if !ok || s == t {
			continue
		}
		succ[s] = append(succ[s], t)
		indeg[t]++
	}

	layer := make([]int, len(nodes))
	done := make([]bool, len(nodes))
	queue := make([]int, 0, len(nodes))
	for i := range nodes {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		done[cur] = true
		for _, t := range succ[cur] {
			layer[t] = max(layer[t], layer[cur]+1)
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	for i := range layer {
		if !done[i] {
			layer[i] = 0
		}
	}
	return layer
}

// Bounds returns the canvas size needed to draw positioned nodes.
func Bounds(nodes []orgflow.Node) (width, height float64) {
	for _, n := range nodes {
		if n.Layout.Position == nil {
			continue
		}
		width = max(width, n.Layout.Position.X+n.Layout.PreferredWidth)
		height = max(height, n.Layout.Position.Y+n.Layout.PreferredHeight)
	}
	return width, height
}
