package normalize

import (
	"math"
	"strings"

	"github.com/rendis/orgimpact/pkg/schema"
)

// Report returns a normalized copy of r in the current schema version. The
// input is not modified. Report is idempotent.
func Report(r *schema.OrgReport) *schema.OrgReport {
	if r == nil {
		return &schema.OrgReport{SchemaVersion: schema.ReportVersionCurrent}
	}
	out := r.Clone()
	out.SchemaVersion = schema.ReportVersionCurrent
	out.Metadata.CompanyName = strings.TrimSpace(out.Metadata.CompanyName)
	out.Metadata.CompanyDomain = strings.ToLower(strings.TrimSpace(out.Metadata.CompanyDomain))

	for i := range out.Hierarchy {
		node(&out.Hierarchy[i])
	}
	for i := range out.Roles {
		Role(&out.Roles[i])
	}
	out.VisualizationHints.HighlightRoleIDs = dedupeIDs(out.VisualizationHints.HighlightRoleIDs, true)
	out.VisualizationHints.CollapsedNodeIDs = dedupeIDs(out.VisualizationHints.CollapsedNodeIDs, false)
	return out
}

func node(n *schema.HierarchyNode) {
	n.ID = strings.TrimSpace(n.ID)
	n.Name = strings.TrimSpace(n.Name)
	if n.ParentID != nil {
		pid := strings.TrimSpace(*n.ParentID)
		if pid == "" {
			n.ParentID = nil
		} else {
			n.ParentID = &pid
		}
	}
	n.Headcount = Headcount(n.Headcount)
	n.AutomationShare = SharePtr(n.AutomationShare)
	n.AugmentationShare = SharePtr(n.AugmentationShare)

	seen := make(map[string]bool)
	var roles []schema.DominantRole
	add := func(id string, headcount *float64) {
		id = strings.TrimSpace(id)
		key := strings.ToLower(id)
		if id == "" || seen[key] {
			return
		}
		seen[key] = true
		roles = append(roles, schema.DominantRole{ID: id, Headcount: Headcount(headcount)})
	}
	for _, d := range n.DominantRoles {
		add(d.ID, d.Headcount)
	}
	for _, id := range n.DominantRoleIDs {
		add(id, nil)
	}

	n.DominantRoles = roles
	n.DominantRoleIDs = nil
	for _, d := range roles {
		n.DominantRoleIDs = append(n.DominantRoleIDs, d.ID)
	}
}

// Role normalizes a single role in place: trimmed identifiers, fractional
// shares, non-negative counts and a derived manual count.
func Role(r *schema.Role) {
	r.OnetCode = strings.TrimSpace(r.OnetCode)
	r.Title = strings.TrimSpace(r.Title)
	if strings.TrimSpace(r.NormalizedTitle) == "" {
		r.NormalizedTitle = Title(r.Title)
	} else {
		r.NormalizedTitle = Title(r.NormalizedTitle)
	}
	if r.ParentCluster != nil && strings.TrimSpace(*r.ParentCluster) == "" {
		r.ParentCluster = nil
	}
	r.AutomationShare = SharePtr(r.AutomationShare)
	r.AugmentationShare = SharePtr(r.AugmentationShare)
	r.Headcount = Headcount(r.Headcount)

	if c := r.TaskMixCounts; c != nil {
		c.Automation = count(c.Automation)
		c.Augmentation = count(c.Augmentation)
		c.Manual = count(c.Manual)
		c.Total = count(c.Total)
		DeriveManual(c)
		if c.Automation == nil && c.Augmentation == nil && c.Manual == nil && c.Total == nil {
			r.TaskMixCounts = nil
		}
	}
	if s := r.TaskMixShares; s != nil {
		s.Automation = SharePtr(s.Automation)
		s.Augmentation = SharePtr(s.Augmentation)
		s.Manual = SharePtr(s.Manual)
	}
	if r.TaskMixShares == nil {
		r.TaskMixShares = SharesFromCounts(r.TaskMixCounts)
	}
}

// DeriveManual fills in the manual task count when automation, augmentation
// and total are all known: manual = max(total - automation - augmentation, 0).
func DeriveManual(c *schema.TaskMixCounts) {
	if c == nil || c.Manual != nil || c.Automation == nil || c.Augmentation == nil || c.Total == nil {
		return
	}
	m := max(*c.Total-*c.Automation-*c.Augmentation, 0)
	c.Manual = &m
}

// SharesFromCounts divides complete counts by their total. It returns nil
// unless every count is known and the total is positive.
func SharesFromCounts(c *schema.TaskMixCounts) *schema.TaskMixShares {
	if c == nil || c.Total == nil || *c.Total <= 0 || c.Automation == nil || c.Augmentation == nil || c.Manual == nil {
		return nil
	}
	total := float64(*c.Total)
	frac := func(n int) *float64 {
		v := math.Min(float64(n)/total, 1)
		return &v
	}
	return &schema.TaskMixShares{
		Automation:   frac(*c.Automation),
		Augmentation: frac(*c.Augmentation),
		Manual:       frac(*c.Manual),
	}
}

func count(p *int) *int {
	if p == nil || *p < 0 {
		return nil
	}
	return p
}

// dedupeIDs trims ids and drops blanks and repeats. Role identifiers compare
// case-insensitively; node ids are exact.
func dedupeIDs(ids []string, fold bool) []string {
	var out []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		key := id
		if fold {
			key = strings.ToLower(id)
		}
		if id == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}
