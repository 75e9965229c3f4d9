package schema

import "time"

// Report payload versions. Stored rows without an explicit version predate
// the structured task-mix fields and are read as ReportVersionLegacyV1.
const (
	ReportVersionLegacyV1 = "legacy-v1"
	ReportVersionV2       = "v2"
	ReportVersionCurrent  = ReportVersionV2
)

// OrgReport is the payload produced by the report generator and consumed by the
// chart pipeline. Field names follow the generator's JSON contract.
type OrgReport struct {
	SchemaVersion      string             `json:"schemaVersion,omitempty"`
	Metadata           ReportMetadata     `json:"metadata"`
	Hierarchy          []HierarchyNode    `json:"hierarchy"`
	Roles              []Role             `json:"roles"`
	VisualizationHints VisualizationHints `json:"visualizationHints"`
}

// ReportMetadata describes the company a report was generated for.
type ReportMetadata struct {
	CompanyName   string     `json:"companyName"`
	CompanyDomain string     `json:"companyDomain,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	Generator     string     `json:"generator,omitempty"`
	GeneratedAt   *time.Time `json:"generatedAt,omitempty"`
}

// HierarchyNode is one org unit. Level is informational; the tree is rebuilt
// from ParentID.
type HierarchyNode struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Level             int            `json:"level"`
	ParentID          *string        `json:"parentId"`
	Headcount         *float64       `json:"headcount"`
	AutomationShare   *float64       `json:"automationShare"`
	AugmentationShare *float64       `json:"augmentationShare"`
	DominantRoleIDs   []string       `json:"dominantRoleIds,omitempty"`
	DominantRoles     []DominantRole `json:"dominantRoles,omitempty"`
}

// DominantRole pairs a role identifier with the headcount attributed to it.
type DominantRole struct {
	ID        string   `json:"id"`
	Headcount *float64 `json:"headcount"`
}

// Role is a job role, typically keyed by an O*NET-SOC code.
type Role struct {
	OnetCode          string         `json:"onetCode"`
	Title             string         `json:"title"`
	NormalizedTitle   string         `json:"normalizedTitle"`
	ParentCluster     *string        `json:"parentCluster"`
	AutomationShare   *float64       `json:"automationShare"`
	AugmentationShare *float64       `json:"augmentationShare"`
	TaskMixCounts     *TaskMixCounts `json:"taskMixCounts"`
	TaskMixShares     *TaskMixShares `json:"taskMixShares"`
	Headcount         *float64       `json:"headcount"`
}

// TaskMixCounts counts a role's tasks by how AI affects them.
type TaskMixCounts struct {
	Automation   *int `json:"automation"`
	Augmentation *int `json:"augmentation"`
	Manual       *int `json:"manual"`
	Total        *int `json:"total"`
}

// TaskMixShares is the fractional form of TaskMixCounts.
type TaskMixShares struct {
	Automation   *float64 `json:"automation"`
	Augmentation *float64 `json:"augmentation"`
	Manual       *float64 `json:"manual"`
}

// VisualizationHints are generator suggestions for the initial chart state.
type VisualizationHints struct {
	HighlightRoleIDs []string `json:"highlightRoleIds,omitempty"`
	CollapsedNodeIDs []string `json:"collapsedNodeIds,omitempty"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// Clone returns a deep copy of the report.
func (r *OrgReport) Clone() *OrgReport {
	if r == nil {
		return nil
	}
	out := *r
	if r.Metadata.GeneratedAt != nil {
		out.Metadata.GeneratedAt = Ptr(*r.Metadata.GeneratedAt)
	}
	if r.Hierarchy != nil {
		out.Hierarchy = make([]HierarchyNode, len(r.Hierarchy))
		for i, n := range r.Hierarchy {
			out.Hierarchy[i] = n.Clone()
		}
	}
	if r.Roles != nil {
		out.Roles = make([]Role, len(r.Roles))
		for i, role := range r.Roles {
			out.Roles[i] = role.Clone()
		}
	}
	out.VisualizationHints = VisualizationHints{
		HighlightRoleIDs: cloneStrings(r.VisualizationHints.HighlightRoleIDs),
		CollapsedNodeIDs: cloneStrings(r.VisualizationHints.CollapsedNodeIDs),
	}
	return &out
}

// Clone returns a deep copy of the node.
func (n HierarchyNode) Clone() HierarchyNode {
	out := n
	out.ParentID = clonePtr(n.ParentID)
	out.Headcount = clonePtr(n.Headcount)
	out.AutomationShare = clonePtr(n.AutomationShare)
	out.AugmentationShare = clonePtr(n.AugmentationShare)
	out.DominantRoleIDs = cloneStrings(n.DominantRoleIDs)
	if n.DominantRoles != nil {
		out.DominantRoles = make([]DominantRole, len(n.DominantRoles))
		for i, d := range n.DominantRoles {
			out.DominantRoles[i] = DominantRole{ID: d.ID, Headcount: clonePtr(d.Headcount)}
		}
	}
	return out
}

// Clone returns a deep copy of the role.
func (r Role) Clone() Role {
	out := r
	out.ParentCluster = clonePtr(r.ParentCluster)
	out.AutomationShare = clonePtr(r.AutomationShare)
	out.AugmentationShare = clonePtr(r.AugmentationShare)
	out.Headcount = clonePtr(r.Headcount)
	if r.TaskMixCounts != nil {
		out.TaskMixCounts = &TaskMixCounts{
			Automation:   clonePtr(r.TaskMixCounts.Automation),
			Augmentation: clonePtr(r.TaskMixCounts.Augmentation),
			Manual:       clonePtr(r.TaskMixCounts.Manual),
			Total:        clonePtr(r.TaskMixCounts.Total),
		}
	}
	if r.TaskMixShares != nil {
		out.TaskMixShares = &TaskMixShares{
			Automation:   clonePtr(r.TaskMixShares.Automation),
			Augmentation: clonePtr(r.TaskMixShares.Augmentation),
			Manual:       clonePtr(r.TaskMixShares.Manual),
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
