// Package diagram renders positioned org charts as Mermaid, ASCII or PNG.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindOrg       NodeKind = "org"
	NodeKindContainer NodeKind = "container"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title     string
	Direction string // TB or LR
	Nodes     []*Node
	Edges     []Edge
	Levels    [][]string
}

// Node represents one chart box.
type Node struct {
	ID          string
	Label       string
	Kind        NodeKind
	Metrics     string // "120 people, 35% automation"
	Roles       []string
	Groups      []*RoleGroup // containers only
	Highlighted bool
}

// RoleGroup is the slice of a container's roles that came from one org unit.
type RoleGroup struct {
	ID    string
	Label string
	Roles []string
}

// Edge represents a reporting line between two nodes.
type Edge struct {
	From string
	To   string
}

func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
