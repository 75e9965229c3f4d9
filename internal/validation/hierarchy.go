package validation

import (
	"fmt"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/internal/orggraph"
	"github.com/rendis/orgimpact/pkg/schema"
)

// CheckHierarchy reports data-quality problems in a decoded report. Every
// finding is a warning: charts still render from whatever forest the graph
// builder salvages.
func CheckHierarchy(report *schema.OrgReport) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if report == nil || len(report.Hierarchy) == 0 {
		result.AddWarning("hierarchy", schema.IssueEmptyHierarchy, "report has no org units")
		return result
	}

	r := normalize.Report(report)
	g := orggraph.Build(r)
	result.Warnings = append(result.Warnings, g.Issues()...)

	for i, n := range r.Hierarchy {
		for j, dr := range n.DominantRoles {
			if _, ok := g.Role(dr.ID); ok {
				continue
			}
			result.AddWarning(fmt.Sprintf("hierarchy[%d].dominantRoles[%d]", i, j), schema.IssueUnknownRole,
				fmt.Sprintf("role %q on %q has no role entry", dr.ID, n.ID))
		}
	}
	return result
}
