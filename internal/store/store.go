package store

import (
	"context"

	"github.com/rendis/orgimpact/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Companies
	CreateCompany(ctx context.Context, c *Company) error
	GetCompany(ctx context.Context, id string) (*Company, error)
	FindCompanyByDomain(ctx context.Context, domain string) (*Company, error)

	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, id string, update RunUpdate) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Run events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error)

	// Reports
	SaveReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	GetReportByRun(ctx context.Context, runID string) (*Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]*Report, error)
	IncrementViews(ctx context.Context, id string) error

	// Job roles
	UpsertJobRole(ctx context.Context, role *schema.Role) error
	ListJobRoles(ctx context.Context) ([]*schema.Role, error)
	RoleByCode(ctx context.Context, code string) (*schema.Role, error)
	RolesByCodePrefix(ctx context.Context, prefix string) ([]*schema.Role, error)
	RoleByNormalizedTitle(ctx context.Context, title string) (*schema.Role, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
