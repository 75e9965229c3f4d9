package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/orgimpact/pkg/schema"
)

// Company is a company reports are generated for.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is one report-generation attempt for a company.
type Run struct {
	ID          string           `json:"id"`
	CompanyID   string           `json:"company_id"`
	Status      schema.RunStatus `json:"status"`
	RequestedBy string           `json:"requested_by,omitempty"`
	Attempts    int              `json:"attempts"`
	Error       string           `json:"error,omitempty"`
	ReportID    string           `json:"report_id,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// RunUpdate holds the fields to change on a run. Nil fields are left alone.
type RunUpdate struct {
	Status      *schema.RunStatus
	Attempts    *int
	Error       *string
	ReportID    *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status        *schema.RunStatus
	CompanyID     string
	UpdatedBefore *time.Time
	Limit         int
	Offset        int
}

// Event is an immutable entry in a run's event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ReportSummary is the denormalized part of a report used for listing and
// sorting without decoding the payload.
type ReportSummary struct {
	Name              string  `json:"name" expr:"name"`
	Domain            string  `json:"domain,omitempty" expr:"domain"`
	Headcount         float64 `json:"headcount" expr:"headcount"`
	AutomationShare   float64 `json:"automationShare" expr:"automationShare"`
	AugmentationShare float64 `json:"augmentationShare" expr:"augmentationShare"`
	NodeCount         int     `json:"nodes" expr:"nodes"`
}

// Report is a stored generator document.
type Report struct {
	ID            string          `json:"id"`
	RunID         string          `json:"run_id,omitempty"`
	CompanyID     string          `json:"company_id"`
	SchemaVersion string          `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
	Summary       ReportSummary   `json:"summary"`
	Views         int64           `json:"views"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Marketplace sort orders.
const (
	SortRecent     = "recent"
	SortViews      = "views"
	SortAutomation = "automation"
	SortHeadcount  = "headcount"
)

// ReportFilter narrows ListReports. Query matches company name or domain.
type ReportFilter struct {
	Query     string
	CompanyID string
	Sort      string
	Limit     int
	Offset    int
}
