package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

var _ Store = (*LibSQLStore)(nil)

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Companies ---

func (s *LibSQLStore) CreateCompany(ctx context.Context, c *Company) error {
	c.Domain = strings.ToLower(strings.TrimSpace(c.Domain))
	c.CreatedAt = timeOrNow(c.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, domain, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, nullStr(c.Domain), c.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "company with domain %q already exists", c.Domain).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetCompany(ctx context.Context, id string) (*Company, error) {
	return s.scanCompany(s.db.QueryRowContext(ctx,
		`SELECT id, name, domain, created_at FROM companies WHERE id = ?`, id), id)
}

func (s *LibSQLStore) FindCompanyByDomain(ctx context.Context, domain string) (*Company, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return s.scanCompany(s.db.QueryRowContext(ctx,
		`SELECT id, name, domain, created_at FROM companies WHERE domain = ?`, domain), domain)
}

func (s *LibSQLStore) scanCompany(row *sql.Row, key string) (*Company, error) {
	c := &Company{}
	var domain sql.NullString
	err := row.Scan(&c.ID, &c.Name, &domain, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("company", key)
	}
	if err != nil {
		return nil, err
	}
	c.Domain = domain.String
	return c, nil
}

// --- Runs ---

const runColumns = `id, company_id, status, requested_by, attempts, error, report_id, created_at, started_at, completed_at, updated_at`

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = schema.RunStatusPending
	}
	run.CreatedAt = timeOrNow(run.CreatedAt)
	run.UpdatedAt = run.CreatedAt
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, company_id, status, requested_by, attempts, error, report_id, created_at, started_at, completed_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.CompanyID, string(run.Status), nullStr(run.RequestedBy), run.Attempts,
		nullStr(run.Error), nullStr(run.ReportID), run.CreatedAt,
		nullTime(run.StartedAt), nullTime(run.CompletedAt), run.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, storeNotFound("run", id)
	}
	return runs[0], nil
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Attempts != nil {
		sets = append(sets, "attempts = ?")
		args = append(args, *update.Attempts)
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if update.ReportID != nil {
		sets = append(sets, "report_id = ?")
		args = append(args, nullStr(*update.ReportID))
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *update.StartedAt)
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *update.CompletedAt)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.UpdatedBefore != nil {
		where = append(where, "updated_at < ?")
		args = append(args, *filter.UpdatedBefore)
	}

	query := "SELECT " + runColumns + " FROM runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		r := &Run{}
		var (
			status                     string
			requestedBy, errMsg, repID sql.NullString
			startedAt, completedAt     sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.CompanyID, &status, &requestedBy, &r.Attempts, &errMsg, &repID,
			&r.CreatedAt, &startedAt, &completedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Status = schema.RunStatus(status)
		r.RequestedBy = requestedBy.String
		r.Error = errMsg.String
		r.ReportID = repID.String
		if startedAt.Valid {
			r.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Reports ---

const reportColumns = `id, run_id, company_id, schema_version, payload, name, domain, headcount, automation_share, augmentation_share, node_count, view_count, created_at`

func (s *LibSQLStore) SaveReport(ctx context.Context, r *Report) error {
	if len(r.Payload) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "report payload is empty")
	}
	if r.SchemaVersion == "" {
		r.SchemaVersion = schema.ReportVersionLegacyV1
	}
	r.CreatedAt = timeOrNow(r.CreatedAt)
	sum := r.Summary
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (`+reportColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, nullStr(r.RunID), r.CompanyID, r.SchemaVersion, string(r.Payload),
		sum.Name, nullStr(strings.ToLower(sum.Domain)), sum.Headcount, sum.AutomationShare,
		sum.AugmentationShare, sum.NodeCount, r.Views, r.CreatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "report %q already exists", r.ID).WithCause(err)
	}
	return err
}

func (s *LibSQLStore) GetReport(ctx context.Context, id string) (*Report, error) {
	return s.oneReport(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
}

func (s *LibSQLStore) GetReportByRun(ctx context.Context, runID string) (*Report, error) {
	return s.oneReport(ctx, `SELECT `+reportColumns+` FROM reports WHERE run_id = ? ORDER BY created_at DESC LIMIT 1`, runID)
}

func (s *LibSQLStore) oneReport(ctx context.Context, query, key string) (*Report, error) {
	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	reports, err := scanReports(rows)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, storeNotFound("report", key)
	}
	return reports[0], nil
}

// ListReports returns stored reports for the marketplace. Unknown sort orders
// fall back to most recent first.
func (s *LibSQLStore) ListReports(ctx context.Context, filter ReportFilter) ([]*Report, error) {
	var where []string
	var args []any

	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(lower(name) LIKE ? ESCAPE '\' OR lower(COALESCE(domain, '')) LIKE ? ESCAPE '\')`)
		args = append(args, like, like)
	}
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}

	query := "SELECT " + reportColumns + " FROM reports"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	switch filter.Sort {
	case SortViews:
		query += " ORDER BY view_count DESC, created_at DESC"
	case SortAutomation:
		query += " ORDER BY automation_share DESC, created_at DESC"
	case SortHeadcount:
		query += " ORDER BY headcount DESC, created_at DESC"
	default:
		query += " ORDER BY created_at DESC"
	}
	query += ", id ASC"
	query += limitClause(filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReports(rows)
}

func (s *LibSQLStore) IncrementViews(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reports SET view_count = view_count + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "report", id)
}

func scanReports(rows *sql.Rows) ([]*Report, error) {
	var reports []*Report
	for rows.Next() {
		r := &Report{}
		var (
			runID, domain sql.NullString
			payload       string
		)
		if err := rows.Scan(&r.ID, &runID, &r.CompanyID, &r.SchemaVersion, &payload,
			&r.Summary.Name, &domain, &r.Summary.Headcount, &r.Summary.AutomationShare,
			&r.Summary.AugmentationShare, &r.Summary.NodeCount, &r.Views, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.RunID = runID.String
		r.Summary.Domain = domain.String
		r.Payload = json.RawMessage(payload)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// --- Job roles ---

// UpsertJobRole normalizes role and stores it under its O*NET code,
// replacing any previous entry.
func (s *LibSQLStore) UpsertJobRole(ctx context.Context, role *schema.Role) error {
	c := role.Clone()
	r := &c
	r.OnetCode = strings.TrimSpace(r.OnetCode)
	if r.OnetCode == "" {
		return schema.NewError(schema.ErrCodeValidation, "job role has no O*NET code")
	}
	normalize.Role(r)
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal job role: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_roles (onet_code, title, normalized_title, parent_cluster, data, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(onet_code) DO UPDATE SET
		   title = excluded.title,
		   normalized_title = excluded.normalized_title,
		   parent_cluster = excluded.parent_cluster,
		   data = excluded.data,
		   updated_at = excluded.updated_at`,
		r.OnetCode, r.Title, r.NormalizedTitle, nullPtr(r.ParentCluster), string(data), time.Now().UTC(),
	)
	return err
}

func (s *LibSQLStore) ListJobRoles(ctx context.Context) ([]*schema.Role, error) {
	return s.queryRoles(ctx, `SELECT data FROM job_roles ORDER BY onet_code`)
}

// RoleByCode returns (nil, nil) when no role has the code.
func (s *LibSQLStore) RoleByCode(ctx context.Context, code string) (*schema.Role, error) {
	return s.firstRole(ctx, `SELECT data FROM job_roles WHERE onet_code = ?`, code)
}

// RolesByCodePrefix returns the roles whose code is prefix plus a ".NN"
// suffix, ordered by title.
func (s *LibSQLStore) RolesByCodePrefix(ctx context.Context, prefix string) ([]*schema.Role, error) {
	return s.queryRoles(ctx,
		`SELECT data FROM job_roles WHERE substr(onet_code, 1, ?) = ? ORDER BY lower(title), onet_code`,
		len(prefix)+1, prefix+".")
}

func (s *LibSQLStore) RoleByNormalizedTitle(ctx context.Context, title string) (*schema.Role, error) {
	return s.firstRole(ctx, `SELECT data FROM job_roles WHERE normalized_title = ? ORDER BY onet_code LIMIT 1`, title)
}

func (s *LibSQLStore) firstRole(ctx context.Context, query string, args ...any) (*schema.Role, error) {
	roles, err := s.queryRoles(ctx, query, args...)
	if err != nil || len(roles) == 0 {
		return nil, err
	}
	return roles[0], nil
}

func (s *LibSQLStore) queryRoles(ctx context.Context, query string, args ...any) ([]*schema.Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*schema.Role
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		role := &schema.Role{}
		if err := json.Unmarshal([]byte(data), role); err != nil {
			return nil, fmt.Errorf("unmarshal job role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.ImpactError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed: unique")
}

func limitClause(limit, offset int) string {
	if limit <= 0 {
		return ""
	}
	clause := fmt.Sprintf(" LIMIT %d", limit)
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullPtr(s *string) any {
	if s == nil {
		return nil
	}
	return nullStr(*s)
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
