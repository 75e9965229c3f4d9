package orggraph

import (
	"fmt"
	"strings"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/pkg/schema"
)

// Build indexes the report hierarchy, links children to parents, breaks
// parent cycles and computes aggregates. It never fails: duplicate ids keep
// the first node, and nodes with a missing, unknown or cyclic parent become
// roots. Problems are recorded in Issues.
func Build(report *schema.OrgReport) *Graph {
	g := &Graph{
		nodes:     make(map[string]*Node),
		roleIndex: make(map[string]int),
		highlight: make(map[string]bool),
	}
	if report == nil {
		return g
	}

	g.index(report.Hierarchy)
	parents := g.resolveParents()
	g.link(parents)
	for _, id := range g.roots {
		g.aggregate(id, 0)
	}
	g.indexRoles(report.Roles)

	for _, id := range report.VisualizationHints.HighlightRoleIDs {
		if key := strings.ToLower(strings.TrimSpace(id)); key != "" {
			g.highlight[key] = true
		}
	}
	for _, id := range report.VisualizationHints.CollapsedNodeIDs {
		if id = strings.TrimSpace(id); id != "" {
			g.collapsed = append(g.collapsed, id)
		}
	}
	return g
}

func (g *Graph) index(hierarchy []schema.HierarchyNode) {
	for i, src := range hierarchy {
		id := strings.TrimSpace(src.ID)
		path := fmt.Sprintf("hierarchy[%d]", i)
		if id == "" {
			g.warn(path+".id", schema.IssueMissingID, "node without id ignored")
			continue
		}
		if _, dup := g.nodes[id]; dup {
			g.warn(path+".id", schema.IssueDuplicateNode, fmt.Sprintf("duplicate node id %q ignored", id))
			continue
		}
		src = src.Clone()
		src.ID = id
		g.nodes[id] = &Node{Source: src}
		g.order = append(g.order, id)
	}
}

// resolveParents returns the effective parent of every node. A parent that is
// missing, unknown or the node itself yields a root. Cycles are broken in
// input order: a node whose parent chain leads back to itself becomes a root.
func (g *Graph) resolveParents() map[string]string {
	parents := make(map[string]string, len(g.order))
	for _, id := range g.order {
		src := g.nodes[id].Source
		if src.ParentID == nil {
			continue
		}
		pid := strings.TrimSpace(*src.ParentID)
		switch {
		case pid == "":
		case pid == id:
			g.warn(id, schema.IssueSelfParent, fmt.Sprintf("node %q is its own parent", id))
		case g.nodes[pid] == nil:
			g.warn(id, schema.IssueUnknownParent, fmt.Sprintf("node %q references unknown parent %q", id, pid))
		default:
			parents[id] = pid
		}
	}

	for _, id := range g.order {
		seen := map[string]bool{id: true}
		for cur := parents[id]; cur != ""; cur = parents[cur] {
			if cur == id {
				g.warn(id, schema.IssueParentCycle, fmt.Sprintf("parent cycle through %q broken", id))
				delete(parents, id)
				break
			}
			if seen[cur] {
				break
			}
			seen[cur] = true
		}
	}
	return parents
}

func (g *Graph) link(parents map[string]string) {
	for _, id := range g.order {
		pid, ok := parents[id]
		if !ok {
			g.roots = append(g.roots, id)
			continue
		}
		g.nodes[id].Parent = pid
		p := g.nodes[pid]
		p.Children = append(p.Children, id)
	}
}

// aggregate fills n's rollup after its children's (post-order).
func (g *Graph) aggregate(id string, depth int) {
	n := g.nodes[id]
	n.Depth = depth

	own := normalize.Headcount(n.Source.Headcount)
	var sum float64
	has := own != nil
	if has {
		sum = *own
	}

	var acc weights
	if own != nil && *own > 0 {
		if s := normalize.SharePtr(n.Source.AutomationShare); s != nil {
			acc.autoW += *own * *s
			acc.autoH += *own
		}
		if s := normalize.SharePtr(n.Source.AugmentationShare); s != nil {
			acc.augW += *own * *s
			acc.augH += *own
		}
	}

	for _, cid := range n.Children {
		g.aggregate(cid, depth+1)
		c := g.nodes[cid]
		n.Aggregate.DescendantCount += 1 + c.Aggregate.DescendantCount
		if c.Aggregate.Headcount != nil {
			sum += *c.Aggregate.Headcount
			has = true
		}
		acc.autoW += c.acc.autoW
		acc.autoH += c.acc.autoH
		acc.augW += c.acc.augW
		acc.augH += c.acc.augH
	}

	if has {
		n.Aggregate.Headcount = &sum
	}
	n.acc = acc
	n.Aggregate.AutomationShare = weighted(acc.autoW, acc.autoH, n.Source.AutomationShare)
	n.Aggregate.AugmentationShare = weighted(acc.augW, acc.augH, n.Source.AugmentationShare)
}

// weighted returns w/h, falling back to the node's own share when no
// headcount-weighted data exists in the subtree.
func weighted(w, h float64, own *float64) *float64 {
	if h > 0 {
		v := w / h
		return &v
	}
	return normalize.SharePtr(own)
}

func (g *Graph) indexRoles(roles []schema.Role) {
	g.roles = make([]schema.Role, 0, len(roles))
	for _, r := range roles {
		idx := len(g.roles)
		g.roles = append(g.roles, r.Clone())
		for _, k := range []string{r.OnetCode, r.NormalizedTitle, r.Title} {
			k = strings.ToLower(strings.TrimSpace(k))
			if _, taken := g.roleIndex[k]; !taken && k != "" {
				g.roleIndex[k] = idx
			}
		}
	}
}

func (g *Graph) warn(path, code, msg string) {
	g.issues = append(g.issues, schema.ValidationIssue{
		Path: path, Code: code, Message: msg, Severity: schema.SeverityWarning,
	})
}
