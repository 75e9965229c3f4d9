package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/roles"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/internal/streaming"
	"github.com/rendis/orgimpact/internal/validation"
	"github.com/rendis/orgimpact/pkg/schema"
)

const sampleReport = `{
  "metadata": {"companyName": "Acme"},
  "hierarchy": [
    {"id": "root", "name": "Acme", "parentId": null, "headcount": 100, "automationShare": 0.2},
    {"id": "eng", "name": "Engineering", "parentId": "root", "headcount": 60, "automationShare": 0.5,
     "dominantRoleIds": ["15-1252.00"]},
    {"id": "ops", "name": "Operations", "parentId": "root", "headcount": 40, "automationShare": 0.25}
  ],
  "roles": [{"onetCode": "15-1252.00", "title": "Software Developers"}]
}`

// fakeGenerator answers with scripted results, one per call; the last entry
// repeats.
type fakeGenerator struct {
	mu      sync.Mutex
	script  []func(ctx context.Context) (*Generated, error)
	calls   int64
	lastReq GenerateRequest
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*Generated, error) {
	n := atomic.AddInt64(&f.calls, 1)
	f.mu.Lock()
	f.lastReq = req
	step := f.script[min(int(n)-1, len(f.script)-1)]
	f.mu.Unlock()
	return step(ctx)
}

func ok(version, payload string) func(context.Context) (*Generated, error) {
	return func(context.Context) (*Generated, error) {
		return &Generated{SchemaVersion: version, Report: json.RawMessage(payload)}, nil
	}
}

func fails(code string) func(context.Context) (*Generated, error) {
	return func(context.Context) (*Generated, error) {
		return nil, schema.NewError(code, "generator said no")
	}
}

type executorFixture struct {
	exec  *Executor
	store *store.LibSQLStore
	gen   *fakeGenerator
	hub   *streaming.MemoryHub
}

func newExecutorFixture(t *testing.T, cfg Config, script ...func(context.Context) (*Generated, error)) *executorFixture {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	v, err := validation.NewReportValidator()
	require.NoError(t, err)
	catalog, err := roles.BuiltinCatalog()
	require.NoError(t, err)

	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = RetryPolicy{Max: 2, Backoff: BackoffConstant, Delay: time.Millisecond}
	}
	gen := &fakeGenerator{script: script}
	hub := streaming.NewMemoryHub()
	exec, err := NewExecutor(Deps{
		Store:     s,
		Generator: gen,
		Validator: v,
		Enricher:  roles.NewEnricher(s, catalog, nil),
		Hub:       hub,
	}, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { exec.Shutdown(context.Background()) })

	return &executorFixture{exec: exec, store: s, gen: gen, hub: hub}
}

func (f *executorFixture) eventTypes(t *testing.T, runID string) []string {
	t.Helper()
	events, err := f.store.GetEvents(context.Background(), runID, 0)
	require.NoError(t, err)
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

// --- Construction ---

func TestNewExecutor_RequiresCollaborators(t *testing.T) {
	_, err := NewExecutor(Deps{}, Config{})
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

// --- Happy path ---

func TestExecutor_CompletesRun(t *testing.T) {
	f := newExecutorFixture(t, Config{}, ok("v2", sampleReport))
	ctx := context.Background()

	events, cancel, err := f.hub.Subscribe(ctx, streaming.Filter{})
	require.NoError(t, err)
	defer cancel()

	run, err := f.exec.Submit(ctx, &schema.ReportRequest{CompanyName: "  Acme ", CompanyDomain: "ACME.example", RequestedBy: "ops"})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusPending, run.Status)
	f.exec.Wait()

	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "ops", got.RequestedBy)
	require.NotEmpty(t, got.ReportID)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	assert.Equal(t, GenerateRequest{CompanyName: "Acme", CompanyDomain: "acme.example", RunID: run.ID}, f.gen.lastReq)
	assert.Equal(t, []string{
		schema.EventRunQueued,
		schema.EventRunStarted,
		schema.EventReportValidated,
		schema.EventReportSaved,
		schema.EventRunCompleted,
	}, f.eventTypes(t, run.ID))

	rep, err := f.store.GetReport(ctx, got.ReportID)
	require.NoError(t, err)
	assert.Equal(t, schema.ReportVersionCurrent, rep.SchemaVersion)
	assert.Equal(t, "Acme", rep.Summary.Name)
	assert.Equal(t, "acme.example", rep.Summary.Domain)
	assert.Equal(t, 3, rep.Summary.NodeCount)
	assert.InDelta(t, 200, rep.Summary.Headcount, 1e-9)
	assert.InDelta(t, 0.3, rep.Summary.AutomationShare, 1e-9)

	var stored schema.OrgReport
	require.NoError(t, json.Unmarshal(rep.Payload, &stored))
	assert.Equal(t, "acme.example", stored.Metadata.CompanyDomain)
	require.NotEmpty(t, stored.Roles)
	assert.Equal(t, "15-1252.00", stored.Roles[0].OnetCode)

	var streamed []string
	for len(streamed) < 5 {
		select {
		case ev := <-events:
			assert.Equal(t, run.ID, ev.RunID)
			streamed = append(streamed, ev.EventType)
		case <-time.After(time.Second):
			t.Fatalf("only streamed %v", streamed)
		}
	}
	assert.Equal(t, schema.EventRunCompleted, streamed[4])
}

func TestExecutor_MigratesLegacyPayload(t *testing.T) {
	legacy := `{"metadata":{"companyName":"Old Co"},"hierarchy":[
	  {"id":"r","name":"Old Co","parentId":null,"headcount":10,"automationRisk":"35"}]}`
	f := newExecutorFixture(t, Config{}, ok("", legacy))

	run, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Old Co"})
	require.NoError(t, err)
	f.exec.Wait()

	view, err := f.exec.Status(context.Background(), run.ID, false)
	require.NoError(t, err)
	require.Equal(t, schema.RunStatusCompleted, view.Status)

	rep, err := f.store.GetReportByRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, rep.Summary.AutomationShare, 1e-9)
}

func TestExecutor_ReusesCompanyByDomain(t *testing.T) {
	f := newExecutorFixture(t, Config{}, ok("v2", sampleReport))
	ctx := context.Background()

	r1, err := f.exec.Submit(ctx, &schema.ReportRequest{CompanyName: "Acme", CompanyDomain: "acme.example"})
	require.NoError(t, err)
	r2, err := f.exec.Submit(ctx, &schema.ReportRequest{CompanyName: "Acme Inc", CompanyDomain: "acme.example"})
	require.NoError(t, err)
	r3, err := f.exec.Submit(ctx, &schema.ReportRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	f.exec.Wait()

	assert.Equal(t, r1.CompanyID, r2.CompanyID)
	assert.NotEqual(t, r1.CompanyID, r3.CompanyID)
}

// --- Failures ---

func TestExecutor_RejectsInvalidRequest(t *testing.T) {
	f := newExecutorFixture(t, Config{}, ok("v2", sampleReport))

	_, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "   "})
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	_, err = f.exec.Submit(context.Background(), nil)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	assert.Zero(t, atomic.LoadInt64(&f.gen.calls))
}

func TestExecutor_RetriesThenSucceeds(t *testing.T) {
	f := newExecutorFixture(t, Config{},
		fails(schema.ErrCodeGenerationFailed),
		fails(schema.ErrCodeTimeout),
		ok("v2", sampleReport),
	)

	run, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	f.exec.Wait()

	view, err := f.exec.Status(context.Background(), run.ID, true)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, view.Run.Status)
	assert.Equal(t, 3, view.Run.Attempts)
	assert.Equal(t, 2, view.Timeline.Retries)
	assert.True(t, view.Timeline.ReportSaved)
	assert.Len(t, view.Events, view.Timeline.EventCount)
	assert.Equal(t, "Acme", view.Company.Name)
}

func TestExecutor_RetriesExhausted(t *testing.T) {
	f := newExecutorFixture(t, Config{}, fails(schema.ErrCodeGenerationFailed))

	run, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	f.exec.Wait()

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Contains(t, got.Error, "after 3 attempts")
	assert.EqualValues(t, 3, atomic.LoadInt64(&f.gen.calls))

	types := f.eventTypes(t, run.ID)
	assert.Equal(t, schema.EventRunFailed, types[len(types)-1])
}

func TestExecutor_NonRetryableFailsFast(t *testing.T) {
	f := newExecutorFixture(t, Config{}, fails(schema.ErrCodeValidation))

	run, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	f.exec.Wait()

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.NotContains(t, f.eventTypes(t, run.ID), schema.EventGenerationRetry)
}

func TestExecutor_InvalidPayloadFailsRun(t *testing.T) {
	f := newExecutorFixture(t, Config{}, ok("v2", `{"hierarchy": "not a list"}`))

	run, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	f.exec.Wait()

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Empty(t, got.ReportID)
	assert.EqualValues(t, 1, atomic.LoadInt64(&f.gen.calls))

	_, err = f.store.GetReportByRun(context.Background(), run.ID)
	assert.Equal(t, schema.ErrCodeNotFound, schema.ErrorCode(err))
}

func TestExecutor_UnknownSchemaVersionFailsRun(t *testing.T) {
	f := newExecutorFixture(t, Config{}, ok("v9", sampleReport))

	run, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	f.exec.Wait()

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "v9")
}

func TestExecutor_CircuitOpensAcrossRuns(t *testing.T) {
	f := newExecutorFixture(t, Config{
		Retry:          RetryPolicy{Max: 0, Backoff: BackoffNone},
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Hour, HalfOpenMax: 1},
	}, fails(schema.ErrCodeGenerationFailed))
	ctx := context.Background()

	var runs []*store.Run
	for range 3 {
		run, err := f.exec.Submit(ctx, &schema.ReportRequest{CompanyName: "Acme"})
		require.NoError(t, err)
		f.exec.Wait()
		runs = append(runs, run)
	}

	assert.EqualValues(t, 2, atomic.LoadInt64(&f.gen.calls))
	assert.Contains(t, f.eventTypes(t, runs[1].ID), schema.EventCircuitOpen)

	third, err := f.store.GetRun(ctx, runs[2].ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, third.Status)
	assert.Equal(t, 0, third.Attempts)
	assert.Equal(t, "open", f.exec.Breaker().State)
}

func TestExecutor_RunTimeout(t *testing.T) {
	slow := func(ctx context.Context) (*Generated, error) {
		<-ctx.Done()
		return nil, schema.NewError(schema.ErrCodeTimeout, "generator call timed out").WithCause(ctx.Err())
	}
	f := newExecutorFixture(t, Config{RunTimeout: 30 * time.Millisecond}, slow)

	run, err := f.exec.Submit(context.Background(), &schema.ReportRequest{CompanyName: "Acme"})
	require.NoError(t, err)
	f.exec.Wait()

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "TIMEOUT_ERROR")
}

// --- Reaper ---

func TestExecutor_ReapStale(t *testing.T) {
	f := newExecutorFixture(t, Config{}, ok("v2", sampleReport))
	ctx := context.Background()

	company := &store.Company{ID: uuid.New().String(), Name: "Ghost"}
	require.NoError(t, f.store.CreateCompany(ctx, company))
	old := time.Now().UTC().Add(-2 * time.Hour)
	stale := &store.Run{ID: uuid.New().String(), CompanyID: company.ID, Status: schema.RunStatusGenerating, CreatedAt: old}
	pending := &store.Run{ID: uuid.New().String(), CompanyID: company.ID, Status: schema.RunStatusPending, CreatedAt: old}
	fresh := &store.Run{ID: uuid.New().String(), CompanyID: company.ID, Status: schema.RunStatusGenerating}
	for _, r := range []*store.Run{stale, pending, fresh} {
		require.NoError(t, f.store.CreateRun(ctx, r))
	}

	n, err := f.exec.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{stale.ID, pending.ID} {
		got, err := f.store.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, schema.RunStatusFailed, got.Status)
		assert.Contains(t, got.Error, "no progress")
		assert.Equal(t, []string{schema.EventRunReaped}, f.eventTypes(t, id))
	}
	got, err := f.store.GetRun(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusGenerating, got.Status)

	n, err = f.exec.ReapStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Summary ---

func TestSummarize_NilMetricsAreZero(t *testing.T) {
	s := Summarize(&schema.OrgReport{Metadata: schema.ReportMetadata{CompanyName: "A", CompanyDomain: "a.io"}}, chart.Stats{HierarchyNodes: 2})
	assert.Equal(t, "A", s.Name)
	assert.Equal(t, "a.io", s.Domain)
	assert.Equal(t, 2, s.NodeCount)
	assert.Zero(t, s.Headcount)
	assert.Zero(t, s.AutomationShare)
}
