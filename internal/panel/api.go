package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/diagram"
	"github.com/rendis/orgimpact/internal/expressions"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/pkg/schema"
)

// Marketplace paging limits.
const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// handleCreateReport queues a report run from a form post or a JSON body.
// Form posts are redirected to the run page; JSON callers get 202.
func (s *PanelServer) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	isJSON := isJSONRequest(r)

	if ok, wait := s.deps.Limiter.Allow(clientIP(r)); !ok {
		secs := int(math.Ceil(wait.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
		s.log(r).Warn("report request rate limited", "client", clientIP(r), "retry_after", secs)
		err := schema.NewErrorf(schema.ErrCodeRateLimited, "too many report requests, retry in %ds", max(secs, 1))
		if isJSON {
			writeImpactError(w, err)
			return
		}
		s.renderHome(w, r, http.StatusTooManyRequests, err.Message, nil)
		return
	}

	var req schema.ReportRequest
	if isJSON {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.renderHome(w, r, http.StatusBadRequest, "invalid form", nil)
			return
		}
		req = schema.ReportRequest{
			CompanyName:   r.PostForm.Get("companyName"),
			CompanyDomain: r.PostForm.Get("companyDomain"),
			RequestedBy:   r.PostForm.Get("requestedBy"),
		}
	}

	run, err := s.deps.Runner.Submit(ctx, &req)
	if err != nil {
		s.log(r).Warn("report request rejected", "error", err)
		if isJSON {
			writeImpactError(w, err)
			return
		}
		s.renderHome(w, r, httpStatus(schema.ErrorCode(err)), errorMessage(err), &req)
		return
	}

	s.log(r).Info("report run queued", "run_id", run.ID, "company_id", run.CompanyID)
	if !isJSON {
		http.Redirect(w, r, "/runs/"+run.ID, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":     run.ID,
		"company_id": run.CompanyID,
		"status":     run.Status,
		"status_url": "/api/runs/" + run.ID,
		"page_url":   "/runs/" + run.ID,
	})
}

// handleAPIRun returns a run with its replayed timeline. ?events=false drops
// the raw event list.
func (s *PanelServer) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	withEvents := r.URL.Query().Get("events") != "false"
	view, err := s.deps.Runner.Status(r.Context(), r.PathValue("id"), withEvents)
	if err != nil {
		writeImpactError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleAPIReport returns a stored report in the current shape. With
// ?select= the jq program's output is returned instead.
func (s *PanelServer) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	lr, err := s.loadReport(r, r.PathValue("id"))
	if err != nil {
		writeImpactError(w, err)
		return
	}

	if sel := strings.TrimSpace(r.URL.Query().Get("select")); sel != "" {
		out, err := s.deps.JQ.Select(r.Context(), sel, lr.report)
		if err != nil {
			writeImpactError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             lr.row.ID,
		"run_id":         lr.row.RunID,
		"company_id":     lr.row.CompanyID,
		"schema_version": lr.row.SchemaVersion,
		"summary":        lr.row.Summary,
		"views":          lr.row.Views,
		"created_at":     lr.row.CreatedAt,
		"report":         lr.report,
	})
}

func (s *PanelServer) handleChartJSON(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, "json", func(_ context.Context, c *chart.Chart) ([]byte, string, error) {
		b, err := json.Marshal(c)
		return b, "application/json", err
	})
}

func (s *PanelServer) handleChartMermaid(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, "mermaid", func(_ context.Context, c *chart.Chart) ([]byte, string, error) {
		return []byte(diagram.RenderMermaid(diagram.Build(c))), "text/plain; charset=utf-8", nil
	})
}

func (s *PanelServer) handleChartASCII(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, "ascii", func(_ context.Context, c *chart.Chart) ([]byte, string, error) {
		return []byte(diagram.RenderASCII(diagram.Build(c))), "text/plain; charset=utf-8", nil
	})
}

func (s *PanelServer) handleChartPNG(w http.ResponseWriter, r *http.Request) {
	s.serveChart(w, r, "png", func(ctx context.Context, c *chart.Chart) ([]byte, string, error) {
		b, err := diagram.RenderImage(ctx, diagram.Build(c))
		return b, "image/png", err
	})
}

// serveChart renders one chart format with ETag validation. The chart is only
// computed when the client copy is stale.
func (s *PanelServer) serveChart(w http.ResponseWriter, r *http.Request, format string,
	encode func(ctx context.Context, c *chart.Chart) ([]byte, string, error)) {
	lr, err := s.loadReport(r, r.PathValue("id"))
	if err != nil {
		writeImpactError(w, err)
		return
	}
	cr, err := s.parseChartRequest(r, lr)
	if err != nil {
		writeImpactError(w, err)
		return
	}
	if notModified(w, r, chartETag(lr.row, cr.key, format)) {
		return
	}

	c, err := chart.Render(lr.report, cr.opts)
	if err != nil {
		writeImpactError(w, err)
		return
	}
	body, contentType, err := encode(r.Context(), c)
	if err != nil {
		s.log(r).Error("chart encode failed", "report_id", lr.row.ID, "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "chart rendering failed")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// marketQuery is a parsed marketplace search.
type marketQuery struct {
	Query  string
	Sort   string
	Filter string
	Limit  int
	Offset int
}

// marketListing is one marketplace row.
type marketListing struct {
	ID        string              `json:"id"`
	CompanyID string              `json:"company_id"`
	Summary   store.ReportSummary `json:"summary"`
	Views     int64               `json:"views"`
	CreatedAt time.Time           `json:"created_at"`
}

func parseMarketQuery(r *http.Request) (marketQuery, error) {
	q := marketQuery{
		Query:  strings.TrimSpace(r.URL.Query().Get("q")),
		Sort:   strings.TrimSpace(r.URL.Query().Get("sort")),
		Filter: strings.TrimSpace(r.URL.Query().Get("filter")),
		Limit:  queryInt(r, "limit", defaultPageSize),
		Offset: queryInt(r, "offset", 0),
	}
	switch q.Sort {
	case "", store.SortRecent, store.SortViews, store.SortAutomation, store.SortHeadcount:
	default:
		return q, schema.NewErrorf(schema.ErrCodeInvalidOption,
			"unknown sort %q: want recent, views, automation or headcount", q.Sort)
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	q.Limit = min(q.Limit, maxPageSize)
	q.Offset = max(q.Offset, 0)
	return q, nil
}

// searchReports lists marketplace reports, applying the expr filter when
// one is given.
func (s *PanelServer) searchReports(ctx context.Context, q marketQuery) ([]*store.Report, error) {
	filter := store.ReportFilter{Query: q.Query, Sort: q.Sort, Limit: q.Limit, Offset: q.Offset}
	if q.Filter == "" {
		return s.deps.Store.ListReports(ctx, filter)
	}
	if err := s.deps.Expr.CompileFilter(q.Filter); err != nil {
		return nil, err
	}
	return store.SearchReports(ctx, s.deps.Store, filter, func(r *store.Report) (bool, error) {
		return s.deps.Expr.Match(q.Filter, expressions.ListingOf(r))
	})
}

func (s *PanelServer) handleAPIMarketplace(w http.ResponseWriter, r *http.Request) {
	q, err := parseMarketQuery(r)
	if err != nil {
		writeImpactError(w, err)
		return
	}
	reports, err := s.searchReports(r.Context(), q)
	if err != nil {
		writeImpactError(w, err)
		return
	}

	items := make([]marketListing, 0, len(reports))
	for _, rep := range reports {
		items = append(items, marketListing{
			ID:        rep.ID,
			CompanyID: rep.CompanyID,
			Summary:   rep.Summary,
			Views:     rep.Views,
			CreatedAt: rep.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": items,
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

// handleHealth reports pool, circuit breaker and maintenance job state.
func (s *PanelServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if h := s.deps.Health; h.Pool != nil {
		body["pool"] = h.Pool()
	}
	if h := s.deps.Health; h.Breaker != nil {
		b := h.Breaker()
		body["circuit_breaker"] = b
		if b.State == "open" {
			body["status"] = "degraded"
		}
	}
	if h := s.deps.Health; h.Scheduler != nil {
		body["jobs"] = h.Scheduler()
	}
	writeJSON(w, http.StatusOK, body)
}

func isJSONRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// errorMessage is the user-facing part of err.
func errorMessage(err error) string {
	var ie *schema.ImpactError
	if errors.As(err, &ie) {
		return ie.Message
	}
	return err.Error()
}
