package panel

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/engine"
	"github.com/rendis/orgimpact/internal/orgflow"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/pkg/schema"
)

// --- Page data types ---

type pageData struct {
	Title  string
	Active string
}

type homeData struct {
	pageData
	Error   string
	Request schema.ReportRequest
	Recent  []*store.Report
}

type runData struct {
	pageData
	View *engine.RunView
}

type reportData struct {
	pageData
	Report   *store.Report
	Org      *schema.OrgReport
	Chart    *chart.Chart
	Boxes    []chartBox
	Lines    []chartLine
	Options  chart.Options
	LRURL    string
	TBURL    string
	DenseURL string
}

type marketplaceData struct {
	pageData
	Query   marketQuery
	Reports []*store.Report
	Error   string
	PrevURL string
	NextURL string
}

// chartBox is a positioned node with its collapse toggle link.
type chartBox struct {
	Node      orgflow.Node
	X, Y      float64
	W, H      float64
	ToggleURL string
	Collapsed bool
}

// chartLine is an edge drawn between two boxes.
type chartLine struct {
	X1, Y1, X2, Y2 float64
}

// --- Page handlers ---

func (s *PanelServer) handleHome(w http.ResponseWriter, r *http.Request) {
	s.renderHome(w, r, http.StatusOK, "", nil)
}

func (s *PanelServer) renderHome(w http.ResponseWriter, r *http.Request, status int, errMsg string, req *schema.ReportRequest) {
	recent, err := s.deps.Store.ListReports(r.Context(), store.ReportFilter{Sort: store.SortRecent, Limit: 12})
	if err != nil {
		s.log(r).Error("list recent reports", "error", err)
	}
	data := homeData{
		pageData: pageData{Title: "AI workforce impact", Active: "home"},
		Error:    errMsg,
		Recent:   recent,
	}
	if req != nil {
		data.Request = *req
	}
	s.renderPage(w, r, status, "home.html", data)
}

func (s *PanelServer) handleRunPage(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Runner.Status(r.Context(), r.PathValue("id"), true)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	title := "Run " + view.Run.ID
	if view.Company != nil {
		title = view.Company.Name
	}
	s.renderPage(w, r, http.StatusOK, "run.html", runData{
		pageData: pageData{Title: title, Active: "runs"},
		View:     view,
	})
}

// handleReportPage renders the chart as absolutely positioned boxes joined by
// SVG lines and counts a view.
func (s *PanelServer) handleReportPage(w http.ResponseWriter, r *http.Request) {
	lr, err := s.loadReport(r, r.PathValue("id"))
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	cr, err := s.parseChartRequest(r, lr)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	c, err := chart.Render(lr.report, cr.opts)
	if err != nil {
		s.pageError(w, r, err)
		return
	}

	if err := s.deps.Store.IncrementViews(r.Context(), lr.row.ID); err != nil {
		s.log(r).Warn("increment report views", "report_id", lr.row.ID, "error", err)
	}

	s.renderPage(w, r, http.StatusOK, "report.html", reportData{
		pageData: pageData{Title: c.Title, Active: "marketplace"},
		Report:   lr.row,
		Org:      lr.report,
		Chart:    c,
		Boxes:    boxes(r.URL, c, cr.opts.CollapsedNodeIDs),
		Lines:    lines(c),
		Options:  cr.opts,
		LRURL:    withParam(r.URL, "direction", string(orgflow.DirectionLR)),
		TBURL:    withParam(r.URL, "direction", string(orgflow.DirectionTB)),
		DenseURL: withParam(r.URL, "dense", boolParam(!cr.opts.DenseGrouping)),
	})
}

func (s *PanelServer) handleMarketplace(w http.ResponseWriter, r *http.Request) {
	data := marketplaceData{pageData: pageData{Title: "Marketplace", Active: "marketplace"}}

	status := http.StatusOK
	q, err := parseMarketQuery(r)
	data.Query = q
	if err == nil {
		data.Reports, err = s.searchReports(r.Context(), q)
	}
	if err != nil {
		data.Error = errorMessage(err)
		status = httpStatus(schema.ErrorCode(err))
	}

	if q.Offset > 0 {
		data.PrevURL = withParam(r.URL, "offset", itoa(subtract(q.Offset, q.Limit)))
	}
	if len(data.Reports) == q.Limit {
		data.NextURL = withParam(r.URL, "offset", itoa(q.Offset+q.Limit))
	}
	s.renderPage(w, r, status, "marketplace.html", data)
}

// pageError writes an HTML-friendly error with the mapped status.
func (s *PanelServer) pageError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatus(schema.ErrorCode(err))
	if status >= http.StatusInternalServerError {
		s.log(r).Error("page failed", "path", r.URL.Path, "error", err)
	}
	http.Error(w, errorMessage(err), status)
}

// --- Chart geometry ---

func boxes(u *url.URL, c *chart.Chart, collapsed []string) []chartBox {
	out := make([]chartBox, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Layout.Position == nil {
			continue
		}
		b := chartBox{
			Node: n,
			X:    n.Layout.Position.X,
			Y:    n.Layout.Position.Y,
			W:    n.Layout.PreferredWidth,
			H:    n.Layout.PreferredHeight,
		}
		if n.Kind == orgflow.KindOrg && n.Data.ChildCount > 0 {
			b.Collapsed = slices.Contains(collapsed, n.ID)
			b.ToggleURL = toggleCollapsed(u, collapsed, n.ID)
		}
		out = append(out, b)
	}
	return out
}

// lines joins parent and child boxes: bottom to top in TB charts, right to
// left in LR charts.
func lines(c *chart.Chart) []chartLine {
	pos := make(map[string]orgflow.Node, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Layout.Position != nil {
			pos[n.ID] = n
		}
	}
	out := make([]chartLine, 0, len(c.Edges))
	for _, e := range c.Edges {
		from, ok1 := pos[e.Source]
		to, ok2 := pos[e.Target]
		if !ok1 || !ok2 {
			continue
		}
		fp, tp := from.Layout.Position, to.Layout.Position
		if c.Direction == orgflow.DirectionLR {
			out = append(out, chartLine{
				X1: fp.X + from.Layout.PreferredWidth, Y1: fp.Y + from.Layout.PreferredHeight/2,
				X2: tp.X, Y2: tp.Y + to.Layout.PreferredHeight/2,
			})
			continue
		}
		out = append(out, chartLine{
			X1: fp.X + from.Layout.PreferredWidth/2, Y1: fp.Y + from.Layout.PreferredHeight,
			X2: tp.X + to.Layout.PreferredWidth/2, Y2: tp.Y,
		})
	}
	return out
}

// toggleCollapsed returns the current URL with id added to or removed from
// the collapsed list.
func toggleCollapsed(u *url.URL, collapsed []string, id string) string {
	next := slices.Clone(collapsed)
	if i := slices.Index(next, id); i >= 0 {
		next = slices.Delete(next, i, i+1)
	} else {
		next = append(next, id)
	}
	return withParam(u, "collapsed", strings.Join(next, ","))
}

// withParam returns u's path and query with key set to value, or removed
// when value is empty.
func withParam(u *url.URL, key, value string) string {
	q := u.Query()
	if value == "" {
		q.Del(key)
	} else {
		q.Set(key, value)
	}
	if len(q) == 0 {
		return u.Path
	}
	return u.Path + "?" + q.Encode()
}

func boolParam(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
