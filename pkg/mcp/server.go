package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/orgimpact/internal/engine"
	"github.com/rendis/orgimpact/internal/expressions"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/internal/streaming"
	"github.com/rendis/orgimpact/pkg/schema"
)

// Runner queues report runs and reports on their progress.
type Runner interface {
	Submit(ctx context.Context, req *schema.ReportRequest) (*store.Run, error)
	Status(ctx context.Context, runID string, withEvents bool) (*engine.RunView, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runner Runner
	Store  store.Store
	Hub    streaming.Hub
	Expr   *expressions.ExprEngine
	JQ     *expressions.GoJQEngine
	Logger *slog.Logger
}

// Server wraps an MCP server with the report tool handlers.
type Server struct {
	runner    Runner
	store     store.Store
	hub       streaming.Hub
	expr      *expressions.ExprEngine
	jq        *expressions.GoJQEngine
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  RunNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with the request, status, chart and search
// tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Expr == nil {
		deps.Expr = expressions.NewExprEngine()
	}
	if deps.JQ == nil {
		deps.JQ = expressions.NewGoJQEngine()
	}

	s := &Server{
		runner:   deps.Runner,
		store:    deps.Store,
		hub:      deps.Hub,
		expr:     deps.Expr,
		jq:       deps.JQ,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"orgimpact",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithInstructions("orgimpact builds AI workforce impact org charts. Use orgimpact.request to queue a report for a company, orgimpact.status to follow the run, orgimpact.chart to fetch a finished chart as JSON, Mermaid, ASCII or PNG, and orgimpact.search to browse stored reports."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Run outcomes are pushed to the session that requested them.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.hub != nil {
		if err := s.forwardRunEvents(ctx); err != nil {
			return err
		}
	}

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// forwardRunEvents notifies requesters when their runs finish.
func (s *Server) forwardRunEvents(ctx context.Context) error {
	events, unsubscribe, err := s.hub.Subscribe(ctx, streaming.Filter{
		EventTypes: []string{schema.EventRunCompleted, schema.EventRunFailed, schema.EventRunReaped},
	})
	if err != nil {
		return err
	}
	go func() {
		defer unsubscribe()
		for ev := range events {
			s.notifyRun(ctx, ev)
		}
	}()
	return nil
}

func (s *Server) notifyRun(ctx context.Context, ev streaming.RunEvent) {
	err := s.notifier.Notify(ctx, ev.RunID, map[string]any{
		"level":  "info",
		"logger": "orgimpact",
		"data": map[string]any{
			"run_id":     ev.RunID,
			"event_type": ev.EventType,
			"status":     ev.Status,
			"payload":    ev.Payload,
		},
	})
	if err != nil {
		s.logger.Warn("run notification failed", "run_id", ev.RunID, "error", err)
	}
	s.sessions.Forget(ev.RunID)
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: requestTool(), Handler: s.handleRequest},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: chartTool(), Handler: s.handleChart},
		{Tool: searchTool(), Handler: s.handleSearch},
	}
}

// --- Tool definitions ---

func requestTool() mcp.Tool {
	return mcp.NewTool("orgimpact.request",
		mcp.WithDescription("Queue an AI workforce impact report for a company"),
		mcp.WithString("company_name", mcp.Required(), mcp.Description("Company to analyse")),
		mcp.WithString("company_domain", mcp.Description("Company web domain, e.g. acme.com; reports for the same domain share a company")),
		mcp.WithString("requested_by", mcp.Description("Who asked for the report")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("orgimpact.status",
		mcp.WithDescription("Get the status of a report run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID returned by orgimpact.request")),
		mcp.WithBoolean("include_events", mcp.Description("Include the run's event log (default: false)")),
	)
}

func chartTool() mcp.Tool {
	return mcp.NewTool("orgimpact.chart",
		mcp.WithDescription("Render a stored report as an org chart. Returns chart JSON, Mermaid flowchart syntax, ASCII art or a base64-encoded PNG"),
		mcp.WithString("report_id", mcp.Description("Report to render")),
		mcp.WithString("run_id", mcp.Description("Render the report produced by this run instead")),
		mcp.WithString("format",
			mcp.Enum("json", "mermaid", "ascii", "image"),
			mcp.Description("Output format (default: json)"),
		),
		mcp.WithString("direction", mcp.Enum("TB", "LR"), mcp.Description("Chart direction (default: TB)")),
		mcp.WithNumber("max_roles", mcp.Description("Roles shown inline before a node becomes a role container (default: 2)")),
		mcp.WithBoolean("dense", mcp.Description("Render every node with roles as a role container")),
		mcp.WithString("collapsed", mcp.Description("Comma-separated node IDs to collapse")),
		mcp.WithString("select", mcp.Description("jq program applied to the report JSON; returns its output instead of a chart")),
	)
}

func searchTool() mcp.Tool {
	return mcp.NewTool("orgimpact.search",
		mcp.WithDescription("Search stored reports"),
		mcp.WithString("query", mcp.Description("Matches company name or domain")),
		mcp.WithString("sort",
			mcp.Enum(store.SortRecent, store.SortViews, store.SortAutomation, store.SortHeadcount),
			mcp.Description("Sort order (default: recent)"),
		),
		mcp.WithString("filter", mcp.Description("expr boolean over name, domain, headcount, automationShare, augmentationShare, nodes, views")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default: 10, max: 100)")),
		mcp.WithNumber("offset", mcp.Description("Results to skip")),
	)
}
