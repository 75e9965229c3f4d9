package validation

import (
	"errors"

	"github.com/rendis/orgimpact/internal/normalize"
	"github.com/rendis/orgimpact/pkg/schema"
)

// ReportValidator runs the payload pipeline:
// 1. Structural (JSON Schema for the payload's version)
// 2. Decode and migrate to the current shape
// 3. Hierarchy diagnostics (warnings only)
type ReportValidator struct {
	jsonSchema *JSONSchemaValidator
}

// NewReportValidator creates a ReportValidator.
func NewReportValidator() (*ReportValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &ReportValidator{jsonSchema: jsv}, nil
}

// Validate checks payload and returns the decoded, normalized report along
// with every issue found. The report is nil when the result has errors.
// Structural errors short-circuit the later stages.
func (rv *ReportValidator) Validate(version string, payload []byte) (*schema.OrgReport, *schema.ValidationResult) {
	result := structural(rv.jsonSchema.ValidatePayload(version, payload))
	if !result.Valid() {
		return nil, result
	}

	report, err := normalize.Decode(version, payload)
	if err != nil {
		result.Merge(structural(err))
		return nil, result
	}

	result.Merge(CheckHierarchy(report))
	return report, result
}

// ValidatePayload satisfies the Validator interface.
func (rv *ReportValidator) ValidatePayload(version string, payload []byte) error {
	_, result := rv.Validate(version, payload)
	return result.ToError()
}

// ValidateRequest delegates to the underlying JSONSchemaValidator.
func (rv *ReportValidator) ValidateRequest(req *schema.ReportRequest) error {
	return rv.jsonSchema.ValidateRequest(req)
}

// structural converts a validation error into a ValidationResult, one entry
// per schema violation.
func structural(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	var ie *schema.ImpactError
	if !errors.As(err, &ie) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := ie.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, ie.Message)
	return result
}
