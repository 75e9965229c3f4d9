package schema

// Event type constants for the per-run event log.
const (
	EventRunQueued       = "run_queued"
	EventRunStarted      = "run_started"
	EventRunCompleted    = "run_completed"
	EventRunFailed       = "run_failed"
	EventRunReaped       = "run_reaped"
	EventGenerationRetry = "generation_retrying"
	EventReportValidated = "report_validated"
	EventReportSaved     = "report_saved"
	EventCircuitOpen     = "circuit_breaker_open"
	EventCircuitClosed   = "circuit_breaker_closed"
)

// RunStatus is the lifecycle state of a report-generation run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusGenerating RunStatus = "generating"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ReportRequest is what a visitor submits to queue a new report.
type ReportRequest struct {
	CompanyName   string `json:"companyName"`
	CompanyDomain string `json:"companyDomain,omitempty"`
	RequestedBy   string `json:"requestedBy,omitempty"`
}
