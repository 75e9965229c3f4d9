package normalize

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/rendis/orgimpact/pkg/schema"
)

// Envelope tags a raw report payload with the schema version it was written in.
type Envelope struct {
	Version string          `json:"schemaVersion"`
	Payload json.RawMessage `json:"report"`
}

// LegacyV1Report is the report shape written before task mixes were structured.
type LegacyV1Report struct {
	Metadata           schema.ReportMetadata     `json:"metadata"`
	Hierarchy          []LegacyV1Node            `json:"hierarchy"`
	Roles              []LegacyV1Role            `json:"roles"`
	VisualizationHints schema.VisualizationHints `json:"visualizationHints"`
}

// LegacyV1Node carries both the old metric names and the current ones;
// current names win when both are present.
type LegacyV1Node struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Level                 int      `json:"level"`
	ParentID              *string  `json:"parentId"`
	Headcount             *float64 `json:"headcount"`
	AutomationShare       any      `json:"automationShare"`
	AutomationRisk        any      `json:"automationRisk"`
	AugmentationShare     any      `json:"augmentationShare"`
	AugmentationPotential any      `json:"augmentationPotential"`
	DominantRoleIDs       []string `json:"dominantRoleIds"`
	DominantRoles         []string `json:"dominantRoles"`
}

// LegacyV1Role carries flat task counters alongside the optional structured mix.
type LegacyV1Role struct {
	OnetCode              string                `json:"onetCode"`
	Title                 string                `json:"title"`
	NormalizedTitle       string                `json:"normalizedTitle"`
	ParentCluster         *string               `json:"parentCluster"`
	AutomationShare       any                   `json:"automationShare"`
	AugmentationShare     any                   `json:"augmentationShare"`
	Headcount             *float64              `json:"headcount"`
	TaskMixCounts         *schema.TaskMixCounts `json:"taskMixCounts"`
	TaskMixShares         *schema.TaskMixShares `json:"taskMixShares"`
	AutomationTaskCount   *int                  `json:"automationTaskCount"`
	AugmentationTaskCount *int                  `json:"augmentationTaskCount"`
	ManualTaskCount       *int                  `json:"manualTaskCount"`
	TotalTaskCount        *int                  `json:"totalTaskCount"`
	AutomationTaskShare   any                   `json:"automationTaskShare"`
	AugmentationTaskShare any                   `json:"augmentationTaskShare"`
	ManualTaskShare       any                   `json:"manualTaskShare"`
}

// Decode reads payload as a report of the given version and returns it in the
// current, normalized shape. An empty version is read as legacy-v1.
func Decode(version string, payload []byte) (*schema.OrgReport, error) {
	return Migrate(Envelope{Version: version, Payload: payload})
}

// Migrate converts a tagged payload into a normalized current report.
func Migrate(env Envelope) (*schema.OrgReport, error) {
	version := strings.TrimSpace(env.Version)
	if version == "" {
		version = schema.ReportVersionLegacyV1
	}

	switch version {
	case schema.ReportVersionLegacyV1:
		var legacy LegacyV1Report
		if err := decodeJSON(env.Payload, &legacy); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "decode legacy-v1 report").WithCause(err)
		}
		return Report(FromLegacyV1(&legacy)), nil
	case schema.ReportVersionV2:
		var current schema.OrgReport
		if err := decodeJSON(env.Payload, &current); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "decode v2 report").WithCause(err)
		}
		return Report(&current), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown report schema version %q", env.Version)
	}
}

// FromLegacyV1 renames legacy fields into the current shape. It does not
// normalize values; callers pass the result through Report.
func FromLegacyV1(l *LegacyV1Report) *schema.OrgReport {
	out := &schema.OrgReport{
		SchemaVersion:      schema.ReportVersionLegacyV1,
		Metadata:           l.Metadata,
		VisualizationHints: l.VisualizationHints,
	}

	for _, n := range l.Hierarchy {
		node := schema.HierarchyNode{
			ID:                n.ID,
			Name:              n.Name,
			Level:             n.Level,
			ParentID:          n.ParentID,
			Headcount:         n.Headcount,
			AutomationShare:   firstShare(n.AutomationShare, n.AutomationRisk),
			AugmentationShare: firstShare(n.AugmentationShare, n.AugmentationPotential),
			DominantRoleIDs:   n.DominantRoleIDs,
		}
		for _, id := range n.DominantRoles {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			node.DominantRoles = append(node.DominantRoles, schema.DominantRole{ID: id})
		}
		out.Hierarchy = append(out.Hierarchy, node)
	}

	for _, r := range l.Roles {
		role := schema.Role{
			OnetCode:          r.OnetCode,
			Title:             r.Title,
			NormalizedTitle:   r.NormalizedTitle,
			ParentCluster:     r.ParentCluster,
			AutomationShare:   ShareAny(r.AutomationShare),
			AugmentationShare: ShareAny(r.AugmentationShare),
			Headcount:         r.Headcount,
			TaskMixCounts:     r.TaskMixCounts,
			TaskMixShares:     r.TaskMixShares,
		}
		if role.TaskMixCounts == nil && anyNonNil(r.AutomationTaskCount, r.AugmentationTaskCount, r.ManualTaskCount, r.TotalTaskCount) {
			role.TaskMixCounts = &schema.TaskMixCounts{
				Automation:   r.AutomationTaskCount,
				Augmentation: r.AugmentationTaskCount,
				Manual:       r.ManualTaskCount,
				Total:        r.TotalTaskCount,
			}
		}
		if role.TaskMixShares == nil {
			shares := &schema.TaskMixShares{
				Automation:   ShareAny(r.AutomationTaskShare),
				Augmentation: ShareAny(r.AugmentationTaskShare),
				Manual:       ShareAny(r.ManualTaskShare),
			}
			if shares.Automation != nil || shares.Augmentation != nil || shares.Manual != nil {
				role.TaskMixShares = shares
			}
		}
		out.Roles = append(out.Roles, role)
	}

	return out
}

func firstShare(values ...any) *float64 {
	for _, v := range values {
		if s := ShareAny(v); s != nil {
			return s
		}
	}
	return nil
}

func anyNonNil(ps ...*int) bool {
	for _, p := range ps {
		if p != nil {
			return true
		}
	}
	return false
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
