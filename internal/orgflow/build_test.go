package orgflow

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/orgimpact/internal/orggraph"
	"github.com/rendis/orgimpact/pkg/schema"
)

func unit(id, parent string, headcount float64, roles ...string) schema.HierarchyNode {
	n := schema.HierarchyNode{ID: id, Name: "Unit " + id, Headcount: schema.Ptr(headcount), DominantRoleIDs: roles}
	if parent != "" {
		n.ParentID = schema.Ptr(parent)
	}
	return n
}

var testRoles = []schema.Role{
	{OnetCode: "11-1011.00", Title: "Chief Executives", NormalizedTitle: "chief executives"},
	{OnetCode: "11-1021.00", Title: "General and Operations Managers", NormalizedTitle: "general and operations managers"},
	{OnetCode: "15-1252.00", Title: "Software Developers", NormalizedTitle: "software developers"},
	{OnetCode: "15-2051.00", Title: "Data Scientists", NormalizedTitle: "data scientists"},
	{OnetCode: "43-4051.00", Title: "Customer Service Representatives", NormalizedTitle: "customer service representatives"},
	{OnetCode: "13-2011.00", Title: "Accountants and Auditors", NormalizedTitle: "accountants and auditors"},
}

func build(t *testing.T, report *schema.OrgReport, opts Options) *Model {
	t.Helper()
	if report.Roles == nil {
		report.Roles = testRoles
	}
	m, err := Build(orggraph.Build(report), opts)
	require.NoError(t, err)
	return m
}

func ids(m *Model) []string {
	out := make([]string, len(m.Nodes))
	for i, n := range m.Nodes {
		out[i] = n.ID
	}
	return out
}

func TestBuild_SingleRoleSiblingsMergeIntoParent(t *testing.T) {
	report := &schema.OrgReport{Hierarchy: []schema.HierarchyNode{
		unit("root", "", 0),
		unit("ops", "root", 12, "11-1021.00"),
		unit("eng", "root", 30, "15-1252.00"),
	}}
	g := orggraph.Build(report)
	root, _ := g.Node("root")
	assert.Equal(t, 42.0, *root.Aggregate.Headcount)

	m := build(t, report, Options{MaxRolesPerNode: 2})
	require.Len(t, m.Nodes, 1)
	assert.Empty(t, m.Edges)

	c := m.Nodes[0]
	assert.Equal(t, "root", c.ID)
	assert.Equal(t, KindDenseRoleContainer, c.Kind)
	require.Len(t, c.Data.DenseRoles, 2)
	assert.Equal(t, "ops", c.Data.DenseRoles[0].GroupID)
	assert.Equal(t, "Unit ops", c.Data.DenseRoles[0].GroupLabel)
	assert.Equal(t, 12.0, *c.Data.DenseRoles[0].GroupHeadcount)
	assert.Equal(t, "eng", c.Data.DenseRoles[1].GroupID)
	assert.Equal(t, 42.0, *c.Data.TotalHeadcount)
	assert.Equal(t, 42.0, *c.Data.Headcount)
}

func TestBuild_MergeThresholds(t *testing.T) {
	tests := []struct {
		name      string
		hierarchy []schema.HierarchyNode
		max       int
		wantIDs   []string
		wantEdges int
	}{
		{
			name: "combined roles above the limit stay separate",
			hierarchy: []schema.HierarchyNode{
				unit("root", "", 1),
				unit("a", "root", 1, "15-1252.00"),
				unit("b", "root", 1, "15-2051.00", "43-4051.00"),
			},
			max: 2, wantIDs: []string{"root", "a", "b"}, wantEdges: 2,
		},
		{
			name: "a single child is never merged",
			hierarchy: []schema.HierarchyNode{
				unit("root", "", 1),
				unit("a", "root", 1, "15-1252.00"),
			},
			max: 2, wantIDs: []string{"root", "a"}, wantEdges: 1,
		},
		{
			name: "a child without roles blocks the merge",
			hierarchy: []schema.HierarchyNode{
				unit("root", "", 1),
				unit("a", "root", 1, "15-1252.00"),
				unit("b", "root", 1),
			},
			max: 2, wantIDs: []string{"root", "a", "b"}, wantEdges: 2,
		},
		{
			name: "a child with its own children blocks the merge",
			hierarchy: []schema.HierarchyNode{
				unit("root", "", 1),
				unit("a", "root", 1, "15-1252.00"),
				unit("b", "root", 1, "15-2051.00"),
				unit("b1", "b", 1),
			},
			max: 2, wantIDs: []string{"root", "a", "b", "b1"}, wantEdges: 3,
		},
		{
			name: "three single-role children merge under a higher limit",
			hierarchy: []schema.HierarchyNode{
				unit("root", "", 1),
				unit("a", "root", 1, "15-1252.00"),
				unit("b", "root", 1, "15-2051.00"),
				unit("c", "root", 1, "43-4051.00"),
			},
			max: 3, wantIDs: []string{"root"}, wantEdges: 0,
		},
		{
			name: "merge happens below the root too",
			hierarchy: []schema.HierarchyNode{
				unit("root", "", 1, "11-1011.00"),
				unit("mid", "root", 1),
				unit("a", "mid", 1, "15-1252.00"),
				unit("b", "mid", 1, "15-2051.00"),
			},
			max: 2, wantIDs: []string{"root", "mid"}, wantEdges: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := build(t, &schema.OrgReport{Hierarchy: tt.hierarchy}, Options{MaxRolesPerNode: tt.max})
			assert.Equal(t, tt.wantIDs, ids(m))
			assert.Len(t, m.Edges, tt.wantEdges)
		})
	}
}

func TestBuild_CollapsedChildMakesSiblingMergeable(t *testing.T) {
	report := &schema.OrgReport{
		Hierarchy: []schema.HierarchyNode{
			unit("root", "", 1),
			unit("a", "root", 1, "15-1252.00"),
			unit("b", "root", 1, "15-2051.00"),
			unit("b1", "b", 1),
		},
	}
	m := build(t, report, Options{CollapsedNodeIDs: []string{"b1"}})
	assert.Equal(t, []string{"root"}, ids(m))
	assert.Equal(t, KindDenseRoleContainer, m.Nodes[0].Kind)
}

func TestBuild_ContainerVersusOrgByThreshold(t *testing.T) {
	report := &schema.OrgReport{Hierarchy: []schema.HierarchyNode{
		unit("root", "", 10, "11-1011.00", "11-1021.00"),
		unit("big", "root", 25, "15-1252.00", "15-2051.00", "43-4051.00"),
		unit("dup", "root", 5, "15-1252.00", "Software Developers", "15-1252.00", "unknown role"),
	}}
	m := build(t, report, Options{MaxRolesPerNode: 2})
	require.Equal(t, []string{"root", "big", "dup"}, ids(m))

	root := m.Nodes[0]
	assert.Equal(t, KindOrg, root.Kind)
	assert.Len(t, root.Data.Roles, 2)
	assert.Nil(t, root.Data.TotalHeadcount)

	big := m.Nodes[1]
	assert.Equal(t, KindDenseRoleContainer, big.Kind)
	require.Len(t, big.Data.DenseRoles, 3)
	for _, d := range big.Data.DenseRoles {
		assert.Equal(t, "big", d.GroupID)
		assert.Equal(t, 25.0, *d.GroupHeadcount)
	}
	assert.Equal(t, 75.0, *big.Data.TotalHeadcount, "each dense role adds its group headcount")

	dup := m.Nodes[2]
	assert.Equal(t, KindOrg, dup.Kind)
	require.Len(t, dup.Data.Roles, 1, "duplicates and unresolved ids dropped")
	assert.Equal(t, "15-1252.00", dup.Data.Roles[0].OnetCode)

	assert.Equal(t, []Edge{
		{ID: "e-root-big", Source: "root", Target: "big"},
		{ID: "e-root-dup", Source: "root", Target: "dup"},
	}, m.Edges)
}

func TestBuild_DenseGrouping(t *testing.T) {
	report := &schema.OrgReport{Hierarchy: []schema.HierarchyNode{
		unit("root", "", 10),
		unit("a", "root", 1, "15-1252.00"),
		unit("b", "root", 1, "15-2051.00"),
	}}
	m := build(t, report, Options{DenseGrouping: true})
	require.Equal(t, []string{"root", "a", "b"}, ids(m))
	assert.Equal(t, KindOrg, m.Nodes[0].Kind, "no roles, stays org")
	assert.Equal(t, KindDenseRoleContainer, m.Nodes[1].Kind)
	assert.Equal(t, KindDenseRoleContainer, m.Nodes[2].Kind)
}

func TestBuild_CollapsePrunesSubtree(t *testing.T) {
	report := &schema.OrgReport{
		Hierarchy: []schema.HierarchyNode{
			unit("root", "", 1),
			unit("eng", "root", 1),
			unit("web", "eng", 1),
			unit("api", "eng", 1),
			unit("ops", "root", 1),
		},
		VisualizationHints: schema.VisualizationHints{CollapsedNodeIDs: []string{"eng"}},
	}
	m := build(t, report, Options{})
	assert.Equal(t, []string{"root", "ops"}, ids(m))
	assert.Equal(t, []Edge{{ID: "e-root-ops", Source: "root", Target: "ops"}}, m.Edges)

	expanded := build(t, report, Options{ExpandedNodeIDs: []string{"eng"}, CollapsedNodeIDs: []string{"ops"}})
	assert.Equal(t, []string{"root", "eng", "web", "api"}, ids(expanded))

	rootCollapsed := build(t, report, Options{CollapsedNodeIDs: []string{"root"}})
	assert.Empty(t, rootCollapsed.Nodes)
	assert.Empty(t, rootCollapsed.Edges)
}

func TestBuild_Highlight(t *testing.T) {
	report := &schema.OrgReport{
		Hierarchy: []schema.HierarchyNode{
			unit("exec", "", 3, "11-1011.00"),
			unit("other", "", 3, "11-1021.00"),
		},
		VisualizationHints: schema.VisualizationHints{HighlightRoleIDs: []string{"11-1011.00"}},
	}
	m := build(t, report, Options{})
	require.Len(t, m.Nodes, 2)
	assert.True(t, m.Nodes[0].Data.IsHighlighted)
	assert.True(t, m.Nodes[0].Data.Roles[0].IsHighlighted)
	assert.False(t, m.Nodes[1].Data.IsHighlighted)

	m = build(t, report, Options{HighlightRoleIDs: []string{"11-1021.00"}})
	assert.True(t, m.Nodes[1].Data.IsHighlighted)
}

func TestBuild_HighlightedMergedContainer(t *testing.T) {
	report := &schema.OrgReport{
		Hierarchy: []schema.HierarchyNode{
			unit("root", "", 0),
			unit("ops", "root", 1, "11-1021.00"),
			unit("exec", "root", 1, "11-1011.00"),
		},
		VisualizationHints: schema.VisualizationHints{HighlightRoleIDs: []string{"11-1011.00"}},
	}
	m := build(t, report, Options{})
	require.Len(t, m.Nodes, 1)
	assert.True(t, m.Nodes[0].Data.IsHighlighted)
	assert.False(t, m.Nodes[0].Data.DenseRoles[0].IsHighlighted)
	assert.True(t, m.Nodes[0].Data.DenseRoles[1].IsHighlighted)
}

func TestBuild_DominantRoleHeadcounts(t *testing.T) {
	report := &schema.OrgReport{Hierarchy: []schema.HierarchyNode{{
		ID: "x", Name: "X",
		DominantRoles:   []schema.DominantRole{{ID: "15-1252.00", Headcount: schema.Ptr(7.0)}},
		DominantRoleIDs: []string{"15-1252.00", "15-2051.00"},
	}}}
	m := build(t, report, Options{})
	roles := m.Nodes[0].Data.Roles
	require.Len(t, roles, 2)
	assert.Equal(t, 7.0, *roles[0].Headcount)
	assert.Nil(t, roles[1].Headcount)
	assert.Nil(t, m.Nodes[0].Data.Headcount)
}

func TestBuild_InvalidOptions(t *testing.T) {
	g := orggraph.Build(&schema.OrgReport{})
	_, err := Build(g, Options{Direction: "diagonal"})
	var ie *schema.ImpactError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, schema.ErrCodeInvalidOption, ie.Code)

	_, err = Build(g, Options{MaxRolesPerNode: -1})
	assert.Equal(t, schema.ErrCodeInvalidOption, schema.ErrorCode(err))

	m, err := Build(g, Options{})
	require.NoError(t, err)
	assert.Equal(t, DirectionTB, m.Direction)
	assert.NotNil(t, m.Nodes)
	assert.NotNil(t, m.Edges)
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("lr")
	require.NoError(t, err)
	assert.Equal(t, DirectionLR, d)
	d, err = ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, DirectionTB, d)
	_, err = ParseDirection("BT")
	assert.Error(t, err)
}

func TestNodeSize(t *testing.T) {
	w, h := NodeSize(KindOrg, 2, 1)
	assert.Equal(t, OrgNodeWidth, w)
	assert.Equal(t, HeaderHeight+2*RoleRowHeight+NodePadding, h)

	assert.Equal(t, 1, DenseColumns(0))
	assert.Equal(t, 1, DenseColumns(6))
	assert.Equal(t, 2, DenseColumns(7))
	assert.Equal(t, 3, DenseColumns(40))

	w, h = NodeSize(KindDenseRoleContainer, 7, 2)
	assert.Equal(t, 2*DenseColumnWidth+2*NodePadding, w)
	assert.Equal(t, HeaderHeight+4*RoleRowHeight+NodePadding, h)
}

// --- Properties ---

func TestBuild_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for iter := 0; iter < 150; iter++ {
		size := 1 + rng.Intn(30)
		hierarchy := make([]schema.HierarchyNode, size)
		for i := range hierarchy {
			var roles []string
			for r := rng.Intn(5); r > 0; r-- {
				roles = append(roles, testRoles[rng.Intn(len(testRoles))].OnetCode)
			}
			parent := ""
			if i > 0 && rng.Intn(5) > 0 {
				parent = fmt.Sprintf("n%d", rng.Intn(i))
			}
			hierarchy[i] = unit(fmt.Sprintf("n%d", i), parent, float64(rng.Intn(20)), roles...)
		}
		var collapsed []string
		if rng.Intn(2) == 0 {
			collapsed = append(collapsed, fmt.Sprintf("n%d", rng.Intn(size)))
		}
		report := &schema.OrgReport{Hierarchy: hierarchy, Roles: testRoles}
		g := orggraph.Build(report)
		limit := 1 + rng.Intn(3)
		m, err := Build(g, Options{MaxRolesPerNode: limit, CollapsedNodeIDs: collapsed})
		require.NoError(t, err)

		// collapsed subtrees never appear
		pruned := map[string]bool{}
		for _, c := range collapsed {
			var mark func(id string)
			mark = func(id string) {
				pruned[id] = true
				n, _ := g.Node(id)
				for _, ch := range n.Children {
					mark(ch)
				}
			}
			mark(c)
		}
		emitted := map[string]bool{}
		for _, n := range m.Nodes {
			assert.False(t, pruned[n.ID], "iteration %d: pruned node %s emitted", iter, n.ID)
			assert.False(t, emitted[n.ID], "iteration %d: node %s emitted twice", iter, n.ID)
			emitted[n.ID] = true
		}
		for _, e := range m.Edges {
			assert.True(t, emitted[e.Source] && emitted[e.Target], "iteration %d: dangling edge %s", iter, e.ID)
			assert.False(t, pruned[e.Source] || pruned[e.Target])
		}

		// non-merging nodes follow the role threshold
		for _, n := range m.Nodes {
			if n.Kind == KindOrg {
				assert.LessOrEqual(t, len(n.Data.Roles), limit)
				continue
			}
			own := 0
			for _, d := range n.Data.DenseRoles {
				if d.GroupID == n.ID {
					own++
				}
			}
			if own == len(n.Data.DenseRoles) {
				assert.Greater(t, own, limit, "iteration %d: container %s without merge", iter, n.ID)
			}
		}
	}
}
