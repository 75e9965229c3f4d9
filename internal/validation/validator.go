package validation

import "github.com/rendis/orgimpact/pkg/schema"

// Validator checks generator payloads and report requests before they are
// stored. Uses JSON Schema Draft 2020-12.
type Validator interface {
	ValidatePayload(version string, payload []byte) error
	ValidateRequest(req *schema.ReportRequest) error
}
