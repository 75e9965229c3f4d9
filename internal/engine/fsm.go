package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/orgimpact/internal/store"
	"github.com/rendis/orgimpact/pkg/schema"
)

// TransitionHook is called after a successful run transition.
type TransitionHook func(runID string, from, to schema.RunStatus) error

// EventAppender is satisfied by the Store and by the executor's recorder;
// the FSM emits one event per transition through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey struct {
	from, to schema.RunStatus
}

// ValidRunTransitions defines the allowed state transitions for runs.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending:    {schema.RunStatusGenerating, schema.RunStatusFailed},
	schema.RunStatusGenerating: {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusCompleted:  {},
	schema.RunStatusFailed:     {},
}

// RunFSM validates run lifecycle transitions and records them in the event log.
// The caller persists the new status on the run row.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	after    map[hookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that emits events via appender.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnAfter registers a hook called after a transition from -> to.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to and emits the matching event with payload
// (may be nil).
func (f *RunFSM) Transition(ctx context.Context, runID string, from, to schema.RunStatus, payload any) error {
	return f.transition(ctx, runID, from, to, runEventType(to), payload)
}

// Reap fails a run that stopped making progress. It differs from Transition
// only in the event it records.
func (f *RunFSM) Reap(ctx context.Context, runID string, from schema.RunStatus, payload any) error {
	return f.transition(ctx, runID, from, schema.RunStatusFailed, schema.EventRunReaped, payload)
}

func (f *RunFSM) transition(ctx context.Context, runID string, from, to schema.RunStatus, eventType string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !IsValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithRun(runID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	if eventType != "" {
		event := &store.Event{RunID: runID, Type: eventType}
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return schema.NewError(schema.ErrCodeValidation, "encode transition payload").WithCause(err).WithRun(runID)
			}
			event.Payload = raw
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit run event: %s", err.Error()).
				WithRun(runID).WithCause(err)
		}
	}

	for _, hook := range f.after[hookKey{from, to}] {
		if err := hook(runID, from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidRunTransition reports whether from -> to is allowed.
func IsValidRunTransition(from, to schema.RunStatus) bool {
	allowed, ok := ValidRunTransitions[from]
	return ok && slices.Contains(allowed, to)
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusGenerating:
		return schema.EventRunStarted
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	case schema.RunStatusFailed:
		return schema.EventRunFailed
	default:
		return ""
	}
}

// statusForEvent maps an event to the run status it implies, for streaming.
func statusForEvent(eventType string) schema.RunStatus {
	switch eventType {
	case schema.EventRunQueued:
		return schema.RunStatusPending
	case schema.EventRunStarted, schema.EventGenerationRetry, schema.EventReportValidated,
		schema.EventReportSaved, schema.EventCircuitOpen, schema.EventCircuitClosed:
		return schema.RunStatusGenerating
	case schema.EventRunCompleted:
		return schema.RunStatusCompleted
	case schema.EventRunFailed, schema.EventRunReaped:
		return schema.RunStatusFailed
	}
	return ""
}
