package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/orgimpact/internal/chart"
	"github.com/rendis/orgimpact/internal/logging"
	"github.com/rendis/orgimpact/internal/roles"
	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/internal/streaming"
	"github.com/rendis/orgimpact/internal/validation"
	"github.com/rendis/orgimpact/pkg/schema"
)

// DefaultPoolSize is the default number of runs generating at once.
const DefaultPoolSize = 4

// DefaultRunTimeout bounds one run from start of generation to the saved report.
const DefaultRunTimeout = 10 * time.Minute

// Config holds executor settings.
type Config struct {
	PoolSize       int
	RunTimeout     time.Duration
	Retry          RetryPolicy
	CircuitBreaker CircuitBreakerConfig
}

// Deps are the collaborators an Executor drives. Hub and Enricher are optional.
type Deps struct {
	Store     store.Store
	Generator Generator
	Validator *validation.ReportValidator
	Enricher  *roles.Enricher
	Hub       streaming.Hub
	Logger    *slog.Logger
}

// RunView is a run as shown to clients: the row plus its replayed timeline.
type RunView struct {
	Run      *store.Run       `json:"run"`
	Company  *store.Company   `json:"company,omitempty"`
	Timeline *store.Timeline  `json:"timeline"`
	Events   []*store.Event   `json:"events,omitempty"`
	Status   schema.RunStatus `json:"status"`
}

// Executor queues report runs, drives them through generation, validation,
// enrichment and persistence, and records every step in the run's event log.
type Executor struct {
	store     store.Store
	generator Generator
	validator *validation.ReportValidator
	enricher  *roles.Enricher
	recorder  *eventRecorder
	fsm       *RunFSM
	pool      *WorkerPool
	breakers  *CircuitBreakerRegistry
	cfg       Config
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewExecutor wires an executor. Store, Generator and Validator are required.
func NewExecutor(deps Deps, cfg Config) (*Executor, error) {
	if deps.Store == nil || deps.Generator == nil || deps.Validator == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires a store, a generator and a validator")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = DefaultRunTimeout
	}
	if cfg.CircuitBreaker == (CircuitBreakerConfig{}) {
		cfg.CircuitBreaker = DefaultCircuitBreakerConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rec := &eventRecorder{store: deps.Store, hub: deps.Hub, logger: logger}
	return &Executor{
		store:     deps.Store,
		generator: deps.Generator,
		validator: deps.Validator,
		enricher:  deps.Enricher,
		recorder:  rec,
		fsm:       NewRunFSM(rec),
		pool:      NewWorkerPool(cfg.PoolSize, logger),
		breakers:  NewCircuitBreakerRegistry(cfg.CircuitBreaker),
		cfg:       cfg,
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}, nil
}

// Submit validates req, records the company and a pending run, and hands the
// run to the worker pool. It blocks while the pool is full. The returned run
// is the pending row; progress is visible through Status and the hub.
func (e *Executor) Submit(ctx context.Context, req *schema.ReportRequest) (*store.Run, error) {
	if req == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "report request is nil")
	}
	clean := schema.ReportRequest{
		CompanyName:   strings.TrimSpace(req.CompanyName),
		CompanyDomain: strings.ToLower(strings.TrimSpace(req.CompanyDomain)),
		RequestedBy:   strings.TrimSpace(req.RequestedBy),
	}
	if err := e.validator.ValidateRequest(&clean); err != nil {
		return nil, err
	}

	company, err := e.company(ctx, clean.CompanyName, clean.CompanyDomain)
	if err != nil {
		return nil, err
	}

	run := &store.Run{
		ID:          uuid.New().String(),
		CompanyID:   company.ID,
		Status:      schema.RunStatusPending,
		RequestedBy: clean.RequestedBy,
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	ctx = logging.WithCompanyID(logging.WithRunID(ctx, run.ID), company.ID)
	log := logging.LogWith(ctx, e.logger)

	e.record(ctx, run.ID, schema.EventRunQueued, map[string]any{
		"company_name":   company.Name,
		"company_domain": company.Domain,
	})

	e.track(run.ID, true)
	greq := GenerateRequest{CompanyName: company.Name, CompanyDomain: company.Domain, RunID: run.ID}
	if err := e.pool.Submit(ctx, func(poolCtx context.Context) error {
		defer e.track(run.ID, false)
		runCtx := logging.WithCompanyID(logging.WithRunID(poolCtx, run.ID), company.ID)
		return e.execute(runCtx, run, greq)
	}); err != nil {
		e.track(run.ID, false)
		log.Warn("run not scheduled", "error", err)
		e.fail(ctx, run.ID, schema.RunStatusPending,
			schema.NewError(schema.ErrCodeCancelled, "run could not be scheduled").WithCause(err))
		return nil, schema.NewErrorf(schema.ErrCodeCancelled, "schedule run: %v", err).WithRun(run.ID).WithCause(err)
	}

	log.Info("run queued", "company", company.Name)
	return run, nil
}

// company finds the company for domain or creates it. Requests without a
// domain always create a new company.
func (e *Executor) company(ctx context.Context, name, domain string) (*store.Company, error) {
	if domain != "" {
		c, err := e.store.FindCompanyByDomain(ctx, domain)
		if err == nil {
			return c, nil
		}
		if schema.ErrorCode(err) != schema.ErrCodeNotFound {
			return nil, fmt.Errorf("find company: %w", err)
		}
	}

	c := &store.Company{ID: uuid.New().String(), Name: name, Domain: domain}
	err := e.store.CreateCompany(ctx, c)
	if schema.ErrorCode(err) == schema.ErrCodeConflict {
		// Lost a race with another request for the same domain.
		return e.store.FindCompanyByDomain(ctx, domain)
	}
	if err != nil {
		return nil, fmt.Errorf("create company: %w", err)
	}
	return c, nil
}

// execute runs one report from pending to a terminal state. Its error is only
// used for pool metrics; the outcome is recorded on the run.
func (e *Executor) execute(ctx context.Context, run *store.Run, req GenerateRequest) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()
	log := logging.LogWith(ctx, e.logger)

	if err := e.fsm.Transition(ctx, run.ID, schema.RunStatusPending, schema.RunStatusGenerating, nil); err != nil {
		log.Error("start run", "error", err)
		return err
	}
	now := time.Now().UTC()
	generating := schema.RunStatusGenerating
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &generating, StartedAt: &now}); err != nil {
		e.fail(ctx, run.ID, schema.RunStatusGenerating, err)
		return err
	}

	reportID, err := e.produce(ctx, run, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && schema.ErrorCode(err) != schema.ErrCodeTimeout {
			err = schema.NewErrorf(schema.ErrCodeTimeout, "run exceeded %s", e.cfg.RunTimeout).WithCause(err)
		}
		e.fail(ctx, run.ID, schema.RunStatusGenerating, err)
		log.Warn("run failed", "error", err)
		return err
	}

	if err := e.fsm.Transition(ctx, run.ID, schema.RunStatusGenerating, schema.RunStatusCompleted,
		map[string]any{"report_id": reportID}); err != nil {
		e.fail(ctx, run.ID, schema.RunStatusGenerating, err)
		return err
	}
	done := time.Now().UTC()
	completed := schema.RunStatusCompleted
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{
		Status:      &completed,
		ReportID:    &reportID,
		CompletedAt: &done,
	}); err != nil {
		log.Error("persist completed run", "error", err)
		return err
	}
	log.Info("run completed", "report_id", reportID)
	return nil
}

// produce generates, validates, enriches and stores a report, returning its id.
func (e *Executor) produce(ctx context.Context, run *store.Run, req GenerateRequest) (string, error) {
	log := logging.LogWith(ctx, e.logger)

	gen, attempts, err := e.generate(ctx, run.ID, req)
	if attempts > 0 {
		if uerr := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Attempts: &attempts}); uerr != nil {
			log.Warn("persist attempts", "error", uerr)
		}
	}
	if err != nil {
		return "", err
	}

	report, result := e.validator.Validate(gen.SchemaVersion, gen.Report)
	if !result.Valid() {
		e.record(ctx, run.ID, schema.EventReportValidated, map[string]any{
			"valid":  false,
			"errors": result.Errors,
		})
		return "", result.ToError()
	}
	for _, w := range result.Warnings {
		log.Warn("report diagnostic", "code", w.Code, "path", w.Path, "message", w.Message)
	}

	var enrichStats roles.EnrichStats
	if e.enricher != nil {
		report, enrichStats = e.enricher.Enrich(ctx, report)
		if err := ctx.Err(); err != nil {
			return "", schema.NewError(schema.ErrCodeCancelled, "enrichment interrupted").WithCause(err)
		}
	}
	e.record(ctx, run.ID, schema.EventReportValidated, map[string]any{
		"valid":            true,
		"warnings":         len(result.Warnings),
		"roles_filled":     enrichStats.Filled,
		"roles_added":      enrichStats.Added,
		"roles_unresolved": enrichStats.Unresolved,
	})

	if report.Metadata.CompanyName == "" {
		report.Metadata.CompanyName = req.CompanyName
	}
	if report.Metadata.CompanyDomain == "" {
		report.Metadata.CompanyDomain = req.CompanyDomain
	}
	report.SchemaVersion = schema.ReportVersionCurrent

	c, err := chart.Render(report, chart.Options{})
	if err != nil {
		return "", fmt.Errorf("summarize report: %w", err)
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return "", schema.NewError(schema.ErrCodeValidation, "encode report").WithCause(err)
	}

	saved := &store.Report{
		ID:            uuid.New().String(),
		RunID:         run.ID,
		CompanyID:     run.CompanyID,
		SchemaVersion: schema.ReportVersionCurrent,
		Payload:       payload,
		Summary:       Summarize(report, c.Stats),
	}
	if err := e.store.SaveReport(ctx, saved); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}
	e.record(ctx, run.ID, schema.EventReportSaved, map[string]any{
		"report_id": saved.ID,
		"nodes":     saved.Summary.NodeCount,
	})
	return saved.ID, nil
}

// generate calls the generator under the retry policy and circuit breaker.
// It returns the number of calls made.
func (e *Executor) generate(ctx context.Context, runID string, req GenerateRequest) (*Generated, int, error) {
	key := e.generator.Name()
	policy := e.cfg.Retry
	log := logging.LogWith(ctx, e.logger)

	attempts := 0
	for {
		if err := e.breakers.Allow(key); err != nil {
			return nil, attempts, err
		}

		attempts++
		gen, err := e.generator.Generate(ctx, req)
		if err == nil {
			if prev := e.breakers.RecordSuccess(key); prev != CircuitClosed {
				e.record(ctx, runID, schema.EventCircuitClosed, e.breakers.Stats(key))
			}
			return gen, attempts, nil
		}

		if state := e.breakers.RecordFailure(key); state == CircuitOpen {
			e.record(ctx, runID, schema.EventCircuitOpen, e.breakers.Stats(key))
		}

		retry := attempts - 1
		if !IsRetryableError(err) || retry >= policy.Max {
			if retry >= policy.Max && policy.Max > 0 {
				return nil, attempts, schema.NewErrorf(schema.ErrCodeGenerationFailed,
					"generation failed after %d attempts: %v", attempts, err).WithRun(runID).WithCause(err)
			}
			return nil, attempts, err
		}

		delay := ComputeBackoff(policy, retry)
		e.record(ctx, runID, schema.EventGenerationRetry, map[string]any{
			"attempt":      attempts + 1,
			"max_attempts": policy.Max + 1,
			"delay":        delay.String(),
			"error":        err.Error(),
		})
		log.Info("retrying generation", "attempt", attempts+1, "delay", delay, "error", err)
		if werr := WaitForBackoff(ctx, delay); werr != nil {
			return nil, attempts, err
		}
	}
}

// fail moves a run to failed and stores the error message. It uses a context
// detached from ctx's cancellation so timed-out runs are still recorded.
func (e *Executor) fail(ctx context.Context, runID string, from schema.RunStatus, cause error) {
	ctx = context.WithoutCancel(ctx)
	log := logging.LogWith(ctx, e.logger)

	payload := map[string]any{"error": cause.Error()}
	if code := schema.ErrorCode(cause); code != "" {
		payload["code"] = code
	}
	if err := e.fsm.Transition(ctx, runID, from, schema.RunStatusFailed, payload); err != nil {
		log.Error("record run failure", "error", err)
	}

	failed := schema.RunStatusFailed
	msg := cause.Error()
	now := time.Now().UTC()
	if err := e.store.UpdateRun(ctx, runID, store.RunUpdate{Status: &failed, Error: &msg, CompletedAt: &now}); err != nil {
		log.Error("persist failed run", "error", err)
	}
}

// ReapStale fails pending or generating runs whose row has not changed for
// olderThan and that this process is not working on. Runs left behind by a
// crash or restart end up here. It returns the number of runs reaped.
func (e *Executor) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	reaped := 0
	for _, status := range []schema.RunStatus{schema.RunStatusPending, schema.RunStatusGenerating} {
		runs, err := e.store.ListRuns(ctx, store.RunFilter{Status: &status, UpdatedBefore: &cutoff})
		if err != nil {
			return reaped, fmt.Errorf("list stale runs: %w", err)
		}
		for _, run := range runs {
			if e.isInflight(run.ID) {
				continue
			}
			if err := e.reap(ctx, run, olderThan); err != nil {
				return reaped, err
			}
			reaped++
		}
	}
	return reaped, nil
}

func (e *Executor) reap(ctx context.Context, run *store.Run, olderThan time.Duration) error {
	msg := fmt.Sprintf("run made no progress for %s", olderThan)
	if err := e.fsm.Reap(ctx, run.ID, run.Status, map[string]any{"error": msg, "stale_since": run.UpdatedAt}); err != nil {
		return err
	}
	failed := schema.RunStatusFailed
	now := time.Now().UTC()
	if err := e.store.UpdateRun(ctx, run.ID, store.RunUpdate{Status: &failed, Error: &msg, CompletedAt: &now}); err != nil {
		return fmt.Errorf("persist reaped run: %w", err)
	}
	logging.LogWith(logging.WithRunID(ctx, run.ID), e.logger).Warn("run reaped", "status", run.Status)
	return nil
}

// Status returns the run with its company and the timeline replayed from the
// event log. Events are included when withEvents is set.
func (e *Executor) Status(ctx context.Context, runID string, withEvents bool) (*RunView, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	tl, err := store.ReplayRun(ctx, e.store, runID)
	if err != nil {
		return nil, err
	}
	view := &RunView{Run: run, Timeline: tl, Status: run.Status}
	if c, err := e.store.GetCompany(ctx, run.CompanyID); err == nil {
		view.Company = c
	}
	if withEvents {
		if view.Events, err = e.store.GetEvents(ctx, runID, 0); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// Metrics returns the worker pool metrics.
func (e *Executor) Metrics() PoolMetrics {
	return e.pool.Metrics()
}

// Breaker returns the circuit breaker snapshot for the configured generator.
func (e *Executor) Breaker() BreakerStats {
	return e.breakers.Stats(e.generator.Name())
}

// Shutdown stops accepting runs and waits for running ones; runs still going
// when ctx ends are cancelled and recorded as failed.
func (e *Executor) Shutdown(ctx context.Context) {
	e.pool.Shutdown(ctx)
}

// Wait blocks until every submitted run has finished. Used by tests and the CLI.
func (e *Executor) Wait() {
	e.pool.Wait()
}

// Summarize builds the marketplace columns for a report from its chart stats.
func Summarize(report *schema.OrgReport, stats chart.Stats) store.ReportSummary {
	s := store.ReportSummary{
		Name:      report.Metadata.CompanyName,
		Domain:    report.Metadata.CompanyDomain,
		NodeCount: stats.HierarchyNodes,
	}
	if stats.TotalHeadcount != nil {
		s.Headcount = *stats.TotalHeadcount
	}
	if stats.AutomationShare != nil {
		s.AutomationShare = *stats.AutomationShare
	}
	if stats.AugmentationShare != nil {
		s.AugmentationShare = *stats.AugmentationShare
	}
	return s
}

func (e *Executor) record(ctx context.Context, runID, eventType string, payload any) {
	ev := &store.Event{RunID: runID, Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			ev.Payload = raw
		}
	}
	if err := e.recorder.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		logging.LogWith(ctx, e.logger).Error("append run event", "event", eventType, "error", err)
	}
}

func (e *Executor) track(runID string, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		e.inflight[runID] = struct{}{}
	} else {
		delete(e.inflight, runID)
	}
}

func (e *Executor) isInflight(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.inflight[runID]
	return ok
}

// eventRecorder appends to the run event log and mirrors each stored event to
// the hub.
type eventRecorder struct {
	store  store.Store
	hub    streaming.Hub
	logger *slog.Logger
}

func (r *eventRecorder) AppendEvent(ctx context.Context, ev *store.Event) error {
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if r.hub == nil {
		return nil
	}
	out := streaming.RunEvent{
		RunID:     ev.RunID,
		EventType: ev.Type,
		Sequence:  ev.Sequence,
		Status:    string(statusForEvent(ev.Type)),
	}
	if len(ev.Payload) > 0 {
		out.Payload = ev.Payload
	}
	if err := r.hub.Publish(ctx, out); err != nil {
		r.logger.Debug("publish run event", "run_id", ev.RunID, "error", err)
	}
	return nil
}
