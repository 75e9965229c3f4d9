package schema

import "fmt"

// ValidationSeverity indicates whether an issue blocks ingestion or is only reported.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// Issue codes used by report diagnostics. Hierarchy issues are always warnings:
// the graph builder degrades gracefully on them.
const (
	IssueMissingID      = "MISSING_ID"
	IssueDuplicateNode  = "DUPLICATE_NODE"
	IssueUnknownParent  = "UNKNOWN_PARENT"
	IssueSelfParent     = "SELF_PARENT"
	IssueParentCycle    = "PARENT_CYCLE"
	IssueUnknownRole    = "UNKNOWN_ROLE"
	IssueEmptyHierarchy = "EMPTY_HIERARCHY"
)

// ValidationIssue is a single problem located by a JSON-pointer-like path
// such as "hierarchy[3].parentId".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues found while checking a payload.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge folds another result into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasCode reports whether any issue of either severity carries code.
func (r *ValidationResult) HasCode(code string) bool {
	for _, is := range r.Errors {
		if is.Code == code {
			return true
		}
	}
	for _, is := range r.Warnings {
		if is.Code == code {
			return true
		}
	}
	return false
}

// ToError converts the result to an ImpactError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("report failed validation with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
