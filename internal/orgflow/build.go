package orgflow

import (
	"strings"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/internal/orggraph"
	"github.com/rendis/orgimpact/pkg/schema"
)

// DefaultMaxRolesPerNode is the largest role count rendered inline on an org node.
const DefaultMaxRolesPerNode = 2

// Options control how a graph is turned into a flow model.
type Options struct {
	// MaxRolesPerNode is the inline role limit; zero means DefaultMaxRolesPerNode.
	MaxRolesPerNode int
	// DenseGrouping renders every node with at least one role as a container.
	DenseGrouping bool
	Direction     Direction
	// CollapsedNodeIDs are pruned in addition to the report's hints.
	CollapsedNodeIDs []string
	// ExpandedNodeIDs override collapse hints from the report.
	ExpandedNodeIDs []string
	// HighlightRoleIDs add to the report's highlight hints.
	HighlightRoleIDs []string
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxRolesPerNode < 0 {
		return o, schema.NewErrorf(schema.ErrCodeInvalidOption, "maxRolesPerNode must not be negative, got %d", o.MaxRolesPerNode)
	}
	if o.MaxRolesPerNode == 0 {
		o.MaxRolesPerNode = DefaultMaxRolesPerNode
	}
	if o.Direction == "" {
		o.Direction = DirectionTB
	}
	return o, o.Direction.Validate()
}

type builder struct {
	g         *orggraph.Graph
	opts      Options
	collapsed map[string]bool
	highlight map[string]bool
	roles     map[string][]RoleRef
	model     *Model
}

// Build walks g in pre-order from each root and emits one node per surviving
// org unit. Collapsed nodes are pruned together with their subtrees. A node
// with more resolved roles than MaxRolesPerNode becomes a dense role
// container. A parent whose surviving children are all single-node leaves
// with inline roles, and whose combined role count fits within
// MaxRolesPerNode, absorbs them into one container with no child edges.
//
// The only errors are invalid options.
func Build(g *orggraph.Graph, opts Options) (*Model, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	b := &builder{
		g:         g,
		opts:      opts,
		collapsed: make(map[string]bool),
		highlight: make(map[string]bool),
		roles:     make(map[string][]RoleRef),
		model:     &Model{Nodes: []Node{}, Edges: []Edge{}, Direction: opts.Direction},
	}
	for _, id := range g.CollapsedIDs() {
		b.collapsed[id] = true
	}
	for _, id := range opts.CollapsedNodeIDs {
		b.collapsed[strings.TrimSpace(id)] = true
	}
	for _, id := range opts.ExpandedNodeIDs {
		delete(b.collapsed, strings.TrimSpace(id))
	}
	for _, id := range opts.HighlightRoleIDs {
		if key := strings.ToLower(strings.TrimSpace(id)); key != "" {
			b.highlight[key] = true
		}
	}

	for _, id := range g.Roots() {
		b.visit(id)
	}
	return b.model, nil
}

func (b *builder) visit(id string) {
	if b.collapsed[id] {
		return
	}
	n, _ := b.g.Node(id)

	var children []string
	for _, cid := range n.Children {
		if !b.collapsed[cid] {
			children = append(children, cid)
		}
	}

	own := b.resolve(n)
	if b.mergeable(children) {
		dense := b.denseRoles(n, own)
		for _, cid := range children {
			c, _ := b.g.Node(cid)
			dense = append(dense, b.denseRoles(c, b.resolve(c))...)
		}
		b.model.Nodes = append(b.model.Nodes, b.container(n, dense))
		return
	}

	if len(own) > b.opts.MaxRolesPerNode || (b.opts.DenseGrouping && len(own) > 0) {
		b.model.Nodes = append(b.model.Nodes, b.container(n, b.denseRoles(n, own)))
	} else {
		b.model.Nodes = append(b.model.Nodes, b.orgNode(n, own))
	}

	for _, cid := range children {
		b.model.Edges = append(b.model.Edges, Edge{ID: "e-" + id + "-" + cid, Source: id, Target: cid})
		b.visit(cid)
	}
}

// mergeable reports whether a parent's surviving children can be folded
// into it: at least two, each a leaf after pruning that would render as an
// org node with at least one role, with at most MaxRolesPerNode roles in total.
func (b *builder) mergeable(children []string) bool {
	if len(children) < 2 || b.opts.DenseGrouping {
		return false
	}
	total := 0
	for _, cid := range children {
		c, _ := b.g.Node(cid)
		for _, gc := range c.Children {
			if !b.collapsed[gc] {
				return false
			}
		}
		n := len(b.resolve(c))
		if n == 0 || n > b.opts.MaxRolesPerNode {
			return false
		}
		total += n
	}
	return total <= b.opts.MaxRolesPerNode
}

// resolve returns the node's roles in dominant-role order, skipping
// identifiers the graph cannot resolve and repeats of the same role.
func (b *builder) resolve(n *orggraph.Node) []RoleRef {
	if refs, ok := b.roles[n.Source.ID]; ok {
		return refs
	}

	headcounts := make(map[string]*float64)
	var ids []string
	for _, d := range n.Source.DominantRoles {
		key := strings.ToLower(strings.TrimSpace(d.ID))
		if _, seen := headcounts[key]; !seen {
			headcounts[key] = d.Headcount
			ids = append(ids, d.ID)
		}
	}
	for _, id := range n.Source.DominantRoleIDs {
		key := strings.ToLower(strings.TrimSpace(id))
		if _, seen := headcounts[key]; !seen {
			headcounts[key] = nil
			ids = append(ids, id)
		}
	}

	var refs []RoleRef
	seen := make(map[string]bool)
	for _, id := range ids {
		role, ok := b.g.Role(id)
		if !ok {
			continue
		}
		key := strings.ToLower(role.OnetCode)
		if key == "" {
			key = strings.ToLower(role.Title)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		title := role.Title
		if title == "" {
			title = strings.TrimSpace(id)
		}
		refs = append(refs, RoleRef{
			ID:                strings.TrimSpace(id),
			OnetCode:          role.OnetCode,
			Title:             title,
			AutomationShare:   role.AutomationShare,
			AugmentationShare: role.AugmentationShare,
			Headcount:         normalize.Headcount(headcounts[strings.ToLower(strings.TrimSpace(id))]),
			IsHighlighted:     b.highlighted(role.OnetCode) || b.highlighted(id),
		})
	}
	b.roles[n.Source.ID] = refs
	return refs
}

func (b *builder) highlighted(id string) bool {
	return b.g.Highlighted(id) || b.highlight[strings.ToLower(strings.TrimSpace(id))]
}

func (b *builder) denseRoles(n *orggraph.Node, refs []RoleRef) []DenseRole {
	out := make([]DenseRole, 0, len(refs))
	for _, r := range refs {
		out = append(out, DenseRole{
			RoleRef:        r,
			GroupID:        n.Source.ID,
			GroupLabel:     label(n),
			GroupHeadcount: normalize.Headcount(n.Source.Headcount),
		})
	}
	return out
}

func (b *builder) orgNode(n *orggraph.Node, refs []RoleRef) Node {
	node := Node{ID: n.Source.ID, Kind: KindOrg, Data: b.data(n)}
	node.Data.Roles = refs
	for _, r := range refs {
		node.Data.IsHighlighted = node.Data.IsHighlighted || r.IsHighlighted
	}
	node.Layout.Columns = 1
	node.Layout.PreferredWidth, node.Layout.PreferredHeight = NodeSize(KindOrg, len(refs), 1)
	return node
}

// container builds a dense role container. Its total headcount is the sum of
// every dense role's group headcount, missing values counting as zero.
func (b *builder) container(n *orggraph.Node, dense []DenseRole) Node {
	node := Node{ID: n.Source.ID, Kind: KindDenseRoleContainer, Data: b.data(n)}
	node.Data.DenseRoles = dense

	var total float64
	for _, d := range dense {
		node.Data.IsHighlighted = node.Data.IsHighlighted || d.IsHighlighted
		if d.GroupHeadcount != nil {
			total += *d.GroupHeadcount
		}
	}
	node.Data.TotalHeadcount = &total

	node.Layout.Columns = DenseColumns(len(dense))
	node.Layout.PreferredWidth, node.Layout.PreferredHeight = NodeSize(KindDenseRoleContainer, len(dense), node.Layout.Columns)
	return node
}

func (b *builder) data(n *orggraph.Node) NodeData {
	return NodeData{
		Label:             label(n),
		Headcount:         n.Aggregate.Headcount,
		AutomationShare:   n.Aggregate.AutomationShare,
		AugmentationShare: n.Aggregate.AugmentationShare,
		DescendantCount:   n.Aggregate.DescendantCount,
		ChildCount:        len(n.Children),
		Depth:             n.Depth,
	}
}

func label(n *orggraph.Node) string {
	if name := strings.TrimSpace(n.Source.Name); name != "" {
		return name
	}
	return n.Source.ID
}
