package panel

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/internal/orgflow"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/pkg/schema"
)

const chartCacheControl = "public, max-age=300"

// loadedReport is a stored report decoded into the current shape.
type loadedReport struct {
	row    *store.Report
	report *schema.OrgReport
}

func (s *PanelServer) loadReport(r *http.Request, id string) (*loadedReport, error) {
	row, err := s.deps.Store.GetReport(r.Context(), id)
	if err != nil {
		return nil, err
	}
	report, err := normalize.Decode(row.SchemaVersion, row.Payload)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "stored report %s cannot be decoded", id).WithCause(err)
	}
	return &loadedReport{row: row, report: report}, nil
}

// chartRequest is a parsed set of chart options plus the canonical key used
// for cache validation.
type chartRequest struct {
	opts chart.Options
	key  string
}

// parseChartRequest reads direction, maxRoles, dense, collapsed, expanded,
// highlight and autoCollapse from the query, falling back to the panel
// defaults.
func (s *PanelServer) parseChartRequest(r *http.Request, lr *loadedReport) (*chartRequest, error) {
	q := r.URL.Query()

	dir, err := orgflow.ParseDirection(q.Get("direction"))
	if err != nil {
		return nil, err
	}

	maxRoles := s.deps.Charts.MaxRolesPerNode
	if v := q.Get("maxRoles"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidOption, "maxRoles must be a non-negative integer, got %q", v)
		}
		maxRoles = n
	}

	dense := s.deps.Charts.DenseGrouping
	if v := q.Get("dense"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInvalidOption, "dense must be a boolean, got %q", v)
		}
		dense = b
	}

	rule := s.deps.Charts.AutoCollapse
	if q.Has("autoCollapse") {
		rule = strings.TrimSpace(q.Get("autoCollapse"))
	}

	opts := chart.Options{
		MaxRolesPerNode:  maxRoles,
		DenseGrouping:    dense,
		Direction:        dir,
		CollapsedNodeIDs: sortedUnique(queryList(r, "collapsed")),
		ExpandedNodeIDs:  sortedUnique(queryList(r, "expanded")),
		HighlightRoleIDs: sortedUnique(queryList(r, "highlight")),
	}
	if rule != "" {
		pred, err := s.deps.CEL.NodePredicate(rule, map[string]any{
			"companyName":   lr.report.Metadata.CompanyName,
			"companyDomain": lr.report.Metadata.CompanyDomain,
		})
		if err != nil {
			return nil, err
		}
		opts.AutoCollapse = pred
	}

	key := fmt.Sprintf("dir=%s;max=%d;dense=%t;collapsed=%s;expanded=%s;highlight=%s;auto=%s",
		dir, maxRoles, dense,
		strings.Join(opts.CollapsedNodeIDs, ","),
		strings.Join(opts.ExpandedNodeIDs, ","),
		strings.Join(opts.HighlightRoleIDs, ","),
		rule)
	return &chartRequest{opts: opts, key: key}, nil
}

// chartETag identifies one rendering of one stored report.
func chartETag(row *store.Report, key, format string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%d", row.ID, key, format, row.CreatedAt.UnixNano())
	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`
}

// notModified sets the caching headers and reports whether the client copy is
// current, in which case a 304 has been written.
func notModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", chartCacheControl)
	for _, candidate := range strings.Split(r.Header.Get("If-None-Match"), ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == etag || candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			w.WriteHeader(http.StatusNotModified)
			return true
		}
	}
	return false
}

func sortedUnique(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
