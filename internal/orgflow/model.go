// Package orgflow turns an org graph into the renderable node and edge set a
// chart draws, bundling dense role sets into container nodes.
package orgflow

import (
	"math"
	"strings"

	"github.com/rendis/orgimpact/pkg/schema"
)

// Kind distinguishes plain org units from role containers.
type Kind string

const (
	KindOrg                Kind = "org"
	KindDenseRoleContainer Kind = "denseRoleContainer"
)

// Direction is the flow direction of the chart.
type Direction string

const (
	DirectionTB Direction = "TB"
	DirectionLR Direction = "LR"
)

// ParseDirection accepts "TB" or "LR" in any case; empty means TB.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case "", DirectionTB:
		return DirectionTB, nil
	case DirectionLR:
		return DirectionLR, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeInvalidOption, "invalid direction %q: want TB or LR", s)
}

// Validate rejects anything but TB and LR.
func (d Direction) Validate() error {
	if d != DirectionTB && d != DirectionLR {
		return schema.NewErrorf(schema.ErrCodeInvalidOption, "invalid direction %q: want TB or LR", string(d))
	}
	return nil
}

// Node is a renderable chart node.
type Node struct {
	ID     string     `json:"id"`
	Kind   Kind       `json:"kind"`
	Data   NodeData   `json:"data"`
	Layout NodeLayout `json:"layout"`
}

// NodeData is the metric and role payload of a node. For containers Roles is
// empty and DenseRoles lists every bundled role with its originating group.
type NodeData struct {
	Label             string      `json:"label"`
	Headcount         *float64    `json:"headcount"`
	AutomationShare   *float64    `json:"automationShare"`
	AugmentationShare *float64    `json:"augmentationShare"`
	DescendantCount   int         `json:"descendantCount"`
	ChildCount        int         `json:"childCount"`
	Depth             int         `json:"depth"`
	Roles             []RoleRef   `json:"roles,omitempty"`
	DenseRoles        []DenseRole `json:"denseRoles,omitempty"`
	TotalHeadcount    *float64    `json:"totalHeadcount,omitempty"`
	IsHighlighted     bool        `json:"isHighlighted"`
}

// RoleRef is a resolved role as shown on a node.
type RoleRef struct {
	ID                string   `json:"id"`
	OnetCode          string   `json:"onetCode"`
	Title             string   `json:"title"`
	AutomationShare   *float64 `json:"automationShare"`
	AugmentationShare *float64 `json:"augmentationShare"`
	Headcount         *float64 `json:"headcount"`
	IsHighlighted     bool     `json:"isHighlighted"`
}

// DenseRole is a role inside a container, tagged with the org unit it came from.
type DenseRole struct {
	RoleRef
	GroupID        string   `json:"groupId"`
	GroupLabel     string   `json:"groupLabel"`
	GroupHeadcount *float64 `json:"groupHeadcount"`
}

// Point is a canvas position of a node's top-left corner.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeLayout carries the preferred size and, after layout, the position.
type NodeLayout struct {
	PreferredWidth  float64 `json:"preferredWidth"`
	PreferredHeight float64 `json:"preferredHeight"`
	Columns         int     `json:"columns"`
	Layer           int     `json:"layer"`
	Position        *Point  `json:"position,omitempty"`
}

// Edge connects a parent node to a child node.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Model is the output of Build.
type Model struct {
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Direction Direction `json:"direction"`
}

// Node sizing in canvas pixels.
const (
	OrgNodeWidth        = 280.0
	DenseColumnWidth    = 240.0
	HeaderHeight        = 72.0
	RoleRowHeight       = 28.0
	NodePadding         = 16.0
	MaxDenseColumns     = 3
	RolesPerDenseColumn = 6
)

// DenseColumns is the number of role columns a container with n roles uses.
func DenseColumns(n int) int {
	cols := int(math.Ceil(float64(n) / RolesPerDenseColumn))
	return min(max(cols, 1), MaxDenseColumns)
}

// NodeSize returns the preferred size of a node listing roleCount roles in
// the given number of columns.
func NodeSize(kind Kind, roleCount, columns int) (width, height float64) {
	columns = max(columns, 1)
	rows := int(math.Ceil(float64(roleCount) / float64(columns)))
	height = HeaderHeight + float64(rows)*RoleRowHeight + NodePadding
	if kind == KindDenseRoleContainer {
		return float64(columns)*DenseColumnWidth + 2*NodePadding, height
	}
	return OrgNodeWidth, height
}
