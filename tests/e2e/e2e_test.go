package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/orgimpact/internal/engine"
	"github.com/rendis/orgimpact/internal/expressions"
	"github.com/rendis/orgimpact/internal/panel"
	"github.com/rendis/orgimpact/internal/ratelimit"
	"github.com/rendis/orgimpact/internal/roles"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/internal/streaming"
	"github.com/rendis/orgimpact/internal/validation"
	impactmcp "github.com/rendis/orgimpact/pkg/mcp"
	"github.com/rendis/orgimpact/pkg/schema"
)

// --- Test harness ---

const currentPayload = `{
  "schemaVersion": "v2",
  "metadata": {"companyName": "%s"},
  "hierarchy": [
    {"id": "root", "name": "HQ", "parentId": null, "headcount": 300, "automationShare": 0.3},
    {"id": "eng", "name": "Engineering", "parentId": "root", "headcount": 200, "automationShare": 0.4,
     "dominantRoleIds": ["15-1252.00"]},
    {"id": "support", "name": "Support", "parentId": "root", "headcount": 100, "automationShare": 45}
  ]
}`

const legacyPayload = `{
  "metadata": {"companyName": "Legacy Co"},
  "hierarchy": [
    {"id": "root", "name": "Legacy Co", "parentId": null, "headcount": 50, "automationRisk": "35"},
    {"id": "ops", "name": "Ops", "parentId": "root", "headcount": 50, "dominantRoles": ["43-4051.00"]}
  ]
}`

// fakeGenerator answers the executor's POSTs. fail makes it return 503.
type fakeGenerator struct {
	calls   atomic.Int32
	fail    atomic.Bool
	version string
	payload func(companyName string) string
}

func (g *fakeGenerator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.calls.Add(1)
	if g.fail.Load() {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
		return
	}
	var req engine.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(engine.Generated{
		SchemaVersion: g.version,
		Report:        json.RawMessage(g.payload(req.CompanyName)),
	})
}

type harness struct {
	store    *store.LibSQLStore
	hub      *streaming.MemoryHub
	executor *engine.Executor
	gen      *fakeGenerator
	panel    *httptest.Server
	mcp      *impactmcp.Server
}

func newHarness(t *testing.T, gen *fakeGenerator) *harness {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))

	genSrv := httptest.NewServer(gen)
	t.Cleanup(genSrv.Close)
	generator, err := engine.NewHTTPGenerator(genSrv.URL, 5*time.Second)
	require.NoError(t, err)

	validator, err := validation.NewReportValidator()
	require.NoError(t, err)
	catalog, err := roles.BuiltinCatalog()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := streaming.NewMemoryHub()
	exec, err := engine.NewExecutor(engine.Deps{
		Store:     s,
		Generator: generator,
		Validator: validator,
		Enricher:  roles.NewEnricher(s, catalog, logger),
		Hub:       hub,
		Logger:    logger,
	}, engine.Config{
		PoolSize:   2,
		RunTimeout: 10 * time.Second,
		Retry: engine.RetryPolicy{
			Max:     1,
			Backoff: engine.BackoffConstant,
			Delay:   5 * time.Millisecond,
		},
		CircuitBreaker: engine.CircuitBreakerConfig{FailureThreshold: 100, Cooldown: time.Second, HalfOpenMax: 1},
	})
	require.NoError(t, err)

	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	ps, err := panel.NewPanelServer(panel.PanelDeps{
		Store:   s,
		Runner:  exec,
		Hub:     hub,
		Limiter: ratelimit.New(ratelimit.Config{}),
		CEL:     cel,
		Health: panel.Health{
			Pool:    exec.Metrics,
			Breaker: exec.Breaker,
		},
		Logger: logger,
	})
	require.NoError(t, err)
	panelSrv := httptest.NewServer(ps.Handler())

	t.Cleanup(func() {
		panelSrv.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		exec.Shutdown(shutdownCtx)
		_ = s.Close()
	})

	return &harness{
		store:    s,
		hub:      hub,
		executor: exec,
		gen:      gen,
		panel:    panelSrv,
		mcp: impactmcp.NewServer(impactmcp.ServerDeps{
			Runner: exec,
			Store:  s,
			Hub:    hub,
			Logger: logger,
		}),
	}
}

func currentGenerator() *fakeGenerator {
	return &fakeGenerator{
		version: schema.ReportVersionV2,
		payload: func(name string) string { return fmt.Sprintf(currentPayload, name) },
	}
}

func (h *harness) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.panel.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) getJSON(t *testing.T, path string, target any) int {
	t.Helper()
	resp, err := http.Get(h.panel.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if target != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

type runView struct {
	Run struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		ReportID string `json:"report_id"`
		Attempts int    `json:"attempts"`
		Error    string `json:"error"`
	} `json:"run"`
	Timeline struct {
		Retries     int  `json:"retries"`
		Validated   bool `json:"validated"`
		ReportSaved bool `json:"report_saved"`
	} `json:"timeline"`
	Events []struct {
		Type string `json:"event_type"`
	} `json:"events"`
	Status string `json:"status"`
}

// waitTerminal polls the run API until the run completes or fails.
func (h *harness) waitTerminal(t *testing.T, runID string) runView {
	t.Helper()
	var view runView
	require.Eventually(t, func() bool {
		view = runView{}
		if h.getJSON(t, "/api/runs/"+runID, &view) != http.StatusOK {
			return false
		}
		return schema.RunStatus(view.Status).Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return view
}

func (v runView) eventTypes() []string {
	out := make([]string, 0, len(v.Events))
	for _, e := range v.Events {
		out = append(out, e.Type)
	}
	return out
}

// --- Full run through the panel ---

func TestRequestToChart(t *testing.T) {
	h := newHarness(t, currentGenerator())

	resp := h.postJSON(t, "/reports", map[string]string{
		"companyName":   "Acme",
		"companyDomain": "acme.example",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		RunID     string `json:"run_id"`
		StatusURL string `json:"status_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.RunID)

	view := h.waitTerminal(t, accepted.RunID)
	require.Equal(t, string(schema.RunStatusCompleted), view.Status, view.Run.Error)
	assert.True(t, view.Timeline.Validated)
	assert.True(t, view.Timeline.ReportSaved)
	assert.Contains(t, view.eventTypes(), schema.EventReportSaved)
	require.NotEmpty(t, view.Run.ReportID)

	var c struct {
		Nodes []struct {
			ID string `json:"id"`
		} `json:"nodes"`
		Stats struct {
			TotalHeadcount  float64 `json:"totalHeadcount"`
			AutomationShare float64 `json:"automationShare"`
		} `json:"stats"`
	}
	require.Equal(t, http.StatusOK, h.getJSON(t, "/api/reports/"+view.Run.ReportID+"/chart", &c))
	assert.Len(t, c.Nodes, 3)
	assert.InDelta(t, 300, c.Stats.TotalHeadcount, 1e-9)

	var market struct {
		Reports []struct {
			ID string `json:"id"`
		} `json:"reports"`
	}
	require.Equal(t, http.StatusOK, h.getJSON(t, "/api/marketplace?filter=headcount+%3E%3D+300", &market))
	require.Len(t, market.Reports, 1)
	assert.Equal(t, view.Run.ReportID, market.Reports[0].ID)

	// The same domain reuses the company.
	again := h.postJSON(t, "/reports", map[string]string{"companyName": "Acme Inc", "companyDomain": "acme.example"})
	require.Equal(t, http.StatusAccepted, again.StatusCode)
	var second struct {
		RunID     string `json:"run_id"`
		CompanyID string `json:"company_id"`
	}
	require.NoError(t, json.NewDecoder(again.Body).Decode(&second))
	h.waitTerminal(t, second.RunID)
	first, err := h.store.GetRun(context.Background(), accepted.RunID)
	require.NoError(t, err)
	assert.Equal(t, first.CompanyID, second.CompanyID)
}

func TestLegacyReportIsEnrichedAndStoredCurrent(t *testing.T) {
	h := newHarness(t, &fakeGenerator{
		version: schema.ReportVersionLegacyV1,
		payload: func(string) string { return legacyPayload },
	})

	run, err := h.executor.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Legacy Co"})
	require.NoError(t, err)
	view := h.waitTerminal(t, run.ID)
	require.Equal(t, string(schema.RunStatusCompleted), view.Status, view.Run.Error)

	rep, err := h.store.GetReportByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ReportVersionV2, rep.SchemaVersion)

	var titles []string
	status := h.getJSON(t, "/api/reports/"+rep.ID+"?select="+url.QueryEscape("[.roles[].title]"), &titles)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, titles, "Customer Service Representatives")
}

func TestGeneratorFailureFailsRunAfterRetry(t *testing.T) {
	gen := currentGenerator()
	gen.fail.Store(true)
	h := newHarness(t, gen)

	run, err := h.executor.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Flaky"})
	require.NoError(t, err)

	view := h.waitTerminal(t, run.ID)
	assert.Equal(t, string(schema.RunStatusFailed), view.Status)
	assert.Equal(t, int32(2), gen.calls.Load())
	assert.Equal(t, 1, view.Timeline.Retries)
	assert.Contains(t, view.eventTypes(), schema.EventGenerationRetry)
	assert.Contains(t, view.eventTypes(), schema.EventRunFailed)

	_, err = h.store.GetReportByRun(context.Background(), run.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestSSEStreamsRunToCompletion(t *testing.T) {
	h := newHarness(t, currentGenerator())

	run, err := h.executor.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Streamy"})
	require.NoError(t, err)

	resp, err := http.Get(h.panel.URL + "/sse/runs/" + run.ID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The stream closes after a terminal event or a terminal snapshot.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "completed")
}

func TestInvalidRequestIsRejected(t *testing.T) {
	h := newHarness(t, currentGenerator())

	resp := h.postJSON(t, "/reports", map[string]string{"companyName": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, int32(0), h.gen.calls.Load())
}
