// Package panel serves the web front end: the request form, run progress,
// chart pages, the marketplace and the JSON API behind them.
package panel

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/rendis/orgimpact/internal/engine"
	"github.com/rendis/orgimpact/internal/expressions"
	"github.com/rendis/orgimpact/internal/logging"
	"github.com/rendis/orgimpact/internal/ratelimit"
	"github.com/rendis/orgimpact/internal/scheduler"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/internal/streaming"
	"github.com/rendis/orgimpact/pkg/schema"
)

//go:embed templates static
var content embed.FS

// Runner queues report runs and reports on their progress.
type Runner interface {
	Submit(ctx context.Context, req *schema.ReportRequest) (*store.Run, error)
	Status(ctx context.Context, runID string, withEvents bool) (*engine.RunView, error)
}

// ChartDefaults apply when a chart request leaves an option out.
type ChartDefaults struct {
	MaxRolesPerNode int
	DenseGrouping   bool
	// AutoCollapse is a CEL rule over `node`; matching subtrees start collapsed.
	AutoCollapse string
}

// Health reports the state of background machinery for /api/health.
type Health struct {
	Pool      func() engine.PoolMetrics
	Breaker   func() engine.BreakerStats
	Scheduler func() []scheduler.JobStatus
}

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Store   store.Store
	Runner  Runner
	Hub     streaming.Hub
	Limiter *ratelimit.Limiter
	Expr    *expressions.ExprEngine
	JQ      *expressions.GoJQEngine
	CEL     *expressions.CELEngine
	Charts  ChartDefaults
	Health  Health
	Logger  *slog.Logger
}

// PanelServer serves the web panel and its JSON API.
type PanelServer struct {
	deps  PanelDeps
	pages map[string]*template.Template
}

// NewPanelServer creates a PanelServer with parsed templates. Missing
// expression engines are created; a default auto-collapse rule must compile.
func NewPanelServer(deps PanelDeps) (*PanelServer, error) {
	if deps.Store == nil || deps.Runner == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "panel needs a store and a runner")
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Hub == nil {
		deps.Hub = streaming.NewMemoryHub()
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(ratelimit.DefaultConfig())
	}
	if deps.Expr == nil {
		deps.Expr = expressions.NewExprEngine()
	}
	if deps.JQ == nil {
		deps.JQ = expressions.NewGoJQEngine()
	}
	if deps.CEL == nil {
		cel, err := expressions.NewCELEngine()
		if err != nil {
			return nil, err
		}
		deps.CEL = cel
	}
	if rule := deps.Charts.AutoCollapse; rule != "" {
		if err := deps.CEL.Compile(rule); err != nil {
			return nil, fmt.Errorf("default auto-collapse rule: %w", err)
		}
	}

	funcMap := template.FuncMap{
		"json":        toJSON,
		"timeAgo":     timeAgo,
		"statusBadge": statusBadge,
		"truncate":    truncate,
		"percent":     percent,
		"people":      people,
		"add":         add,
		"subtract":    subtract,
	}

	// Shared layout and partials; each page clones them so its
	// {{define "content"}} doesn't collide with others.
	base := template.Must(
		template.New("").Funcs(funcMap).ParseFS(content,
			"templates/base.html",
			"templates/partials/*.html",
		),
	)

	pageFiles := []string{
		"home.html",
		"run.html",
		"report.html",
		"marketplace.html",
	}

	pages := make(map[string]*template.Template, len(pageFiles))
	for _, pf := range pageFiles {
		clone := template.Must(base.Clone())
		pages[pf] = template.Must(clone.ParseFS(content, "templates/"+pf))
	}

	return &PanelServer{
		deps:  deps,
		pages: pages,
	}, nil
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	mux := http.NewServeMux()

	staticFS, _ := fs.Sub(content, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	// Pages.
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /runs/{id}", s.handleRunPage)
	mux.HandleFunc("GET /reports/{id}", s.handleReportPage)
	mux.HandleFunc("GET /marketplace", s.handleMarketplace)

	// SSE.
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)

	// API.
	mux.HandleFunc("POST /reports", s.handleCreateReport)
	mux.HandleFunc("GET /api/runs/{id}", s.handleAPIRun)
	mux.HandleFunc("GET /api/reports/{id}", s.handleAPIReport)
	mux.HandleFunc("GET /api/reports/{id}/chart", s.handleChartJSON)
	mux.HandleFunc("GET /api/reports/{id}/chart.mmd", s.handleChartMermaid)
	mux.HandleFunc("GET /api/reports/{id}/chart.txt", s.handleChartASCII)
	mux.HandleFunc("GET /api/reports/{id}/chart.png", s.handleChartPNG)
	mux.HandleFunc("GET /api/marketplace", s.handleAPIMarketplace)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	return s.withRequestID(mux)
}

// withRequestID tags every request with an id, echoed in X-Request-ID and
// attached to log lines through the context.
func (s *PanelServer) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *PanelServer) log(r *http.Request) *slog.Logger {
	return logging.LogWith(r.Context(), s.deps.Logger)
}

// renderPage executes a page template by name with the given status.
func (s *PanelServer) renderPage(w http.ResponseWriter, r *http.Request, status int, page string, data any) {
	tmpl, ok := s.pages[page]
	if !ok {
		s.log(r).Error("template not found", "page", page)
		http.Error(w, fmt.Sprintf("template %q not found", page), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		s.log(r).Error("template render error", "page", page, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
