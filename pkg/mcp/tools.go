package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/diagram"
	"github.com/rendis/orgimpact/internal/expressions"
	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/internal/orgflow"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/pkg/schema"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// handleRequest queues a report run for a company.
func (s *Server) handleRequest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("company_name")
	if err != nil {
		return mcp.NewToolResultError("company_name is required"), nil
	}

	run, err := s.runner.Submit(ctx, &schema.ReportRequest{
		CompanyName:   strings.TrimSpace(name),
		CompanyDomain: strings.TrimSpace(req.GetString("company_domain", "")),
		RequestedBy:   strings.TrimSpace(req.GetString("requested_by", "")),
	})
	if err != nil {
		return toolError(err), nil
	}

	// Capture session mapping for the completion notification.
	s.captureSession(ctx, run.ID)

	return marshalResult(map[string]any{
		"run_id":     run.ID,
		"company_id": run.CompanyID,
		"status":     run.Status,
	})
}

// handleStatus returns the current state of a run.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	view, err := s.runner.Status(ctx, runID, req.GetBool("include_events", false))
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(view)
}

// handleChart renders a stored report in the requested format.
func (s *Server) handleChart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format := req.GetString("format", "json")
	switch format {
	case "json", "mermaid", "ascii", "image":
	default:
		return mcp.NewToolResultError("format must be json, mermaid, ascii, or image"), nil
	}

	row, err := s.lookupReport(ctx, req.GetString("report_id", ""), req.GetString("run_id", ""))
	if err != nil {
		return toolError(err), nil
	}
	report, err := normalize.Decode(row.SchemaVersion, row.Payload)
	if err != nil {
		return toolError(schema.NewError(schema.ErrCodeStore, "stored report is unreadable").WithCause(err)), nil
	}

	if sel := req.GetString("select", ""); sel != "" {
		out, err := s.jq.Select(ctx, sel, report)
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(out)
	}

	opts, err := chartOptions(req)
	if err != nil {
		return toolError(err), nil
	}
	c, err := chart.Render(report, opts)
	if err != nil {
		return toolError(err), nil
	}

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(diagram.Build(c))), nil
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(diagram.Build(c))), nil
	case "image":
		png, err := diagram.RenderImage(ctx, diagram.Build(c))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	default:
		return marshalResult(c)
	}
}

// handleSearch lists stored reports.
func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sortBy := req.GetString("sort", "")
	switch sortBy {
	case "", store.SortRecent, store.SortViews, store.SortAutomation, store.SortHeadcount:
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown sort %q", sortBy)), nil
	}

	limit := req.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	filter := store.ReportFilter{
		Query:  strings.TrimSpace(req.GetString("query", "")),
		Sort:   sortBy,
		Limit:  min(limit, maxSearchLimit),
		Offset: max(req.GetInt("offset", 0), 0),
	}

	var match func(*store.Report) (bool, error)
	if expr := strings.TrimSpace(req.GetString("filter", "")); expr != "" {
		if err := s.expr.CompileFilter(expr); err != nil {
			return toolError(err), nil
		}
		match = func(r *store.Report) (bool, error) {
			return s.expr.Match(expr, expressions.ListingOf(r))
		}
	}

	reports, err := store.SearchReports(ctx, s.store, filter, match)
	if err != nil {
		return toolError(err), nil
	}

	results := make([]map[string]any, 0, len(reports))
	for _, r := range reports {
		results = append(results, map[string]any{
			"report_id":  r.ID,
			"run_id":     r.RunID,
			"company_id": r.CompanyID,
			"summary":    r.Summary,
			"views":      r.Views,
			"created_at": r.CreatedAt,
		})
	}
	return marshalResult(map[string]any{
		"reports": results,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// --- Helpers ---

func (s *Server) lookupReport(ctx context.Context, reportID, runID string) (*store.Report, error) {
	switch {
	case reportID != "":
		return s.store.GetReport(ctx, reportID)
	case runID != "":
		return s.store.GetReportByRun(ctx, runID)
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "one of report_id or run_id is required")
	}
}

// chartOptions reads layout options from the tool arguments.
func chartOptions(req mcp.CallToolRequest) (chart.Options, error) {
	dir, err := orgflow.ParseDirection(req.GetString("direction", ""))
	if err != nil {
		return chart.Options{}, err
	}
	opts := chart.Options{
		DenseGrouping: req.GetBool("dense", false),
		Direction:     dir,
	}
	if args := req.GetArguments(); args["max_roles"] != nil {
		n := req.GetInt("max_roles", -1)
		if n < 0 {
			return chart.Options{}, schema.NewError(schema.ErrCodeInvalidOption, "max_roles must be a non-negative integer")
		}
		opts.MaxRolesPerNode = n
	}
	for _, id := range strings.Split(req.GetString("collapsed", ""), ",") {
		if id = strings.TrimSpace(id); id != "" {
			opts.CollapsedNodeIDs = append(opts.CollapsedNodeIDs, id)
		}
	}
	return opts, nil
}

func (s *Server) captureSession(ctx context.Context, runID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(runID, session.SessionID())
	}
}

// toolError reports err to the caller with its error code.
func toolError(err error) *mcp.CallToolResult {
	code := schema.ErrorCode(err)
	if code == "" {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", code, err))
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
