package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rendis/orgimpact/pkg/schema"
)

// AppendEvent appends an event with a monotonically increasing per-run sequence.
// The connection pool holds a single connection, so the read of MAX(sequence)
// and the insert cannot interleave with another writer.
func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM run_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, payload, timestamp, sequence) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence.
func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_type, payload, timestamp, sequence
		 FROM run_events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Timeline is a run's state reconstructed from its event log.
type Timeline struct {
	RunID       string           `json:"run_id"`
	Status      schema.RunStatus `json:"status"`
	Retries     int              `json:"retries"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	LastEvent   string           `json:"last_event,omitempty"`
	EventCount  int              `json:"event_count"`
	Validated   bool             `json:"validated"`
	ReportSaved bool             `json:"report_saved"`
}

// ReplayRun folds the event log of a run into a Timeline. A gap in the
// sequence numbers is reported as a STORE_ERROR.
func ReplayRun(ctx context.Context, s Store, runID string) (*Timeline, error) {
	events, err := s.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	tl := &Timeline{RunID: runID, Status: schema.RunStatusPending}
	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, want, e.Sequence)
		}
		ts := e.Timestamp
		switch e.Type {
		case schema.EventRunStarted:
			tl.Status = schema.RunStatusGenerating
			tl.StartedAt = &ts
		case schema.EventGenerationRetry:
			tl.Retries++
		case schema.EventReportValidated:
			tl.Validated = true
		case schema.EventReportSaved:
			tl.ReportSaved = true
		case schema.EventRunCompleted:
			tl.Status = schema.RunStatusCompleted
			tl.FinishedAt = &ts
		case schema.EventRunFailed, schema.EventRunReaped:
			tl.Status = schema.RunStatusFailed
			tl.FinishedAt = &ts
		}
		tl.LastEvent = e.Type
		tl.EventCount++
	}
	return tl, nil
}
