package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/orgimpact/pkg/schema"
)

const (
	reportSchemaURL  = "https://orgimpact.dev/schemas/report-v2.json"
	legacySchemaURL  = "https://orgimpact.dev/schemas/report-legacy-v1.json"
	requestSchemaURL = "https://orgimpact.dev/schemas/request.json"
)

// reportSchemaJSON describes the current report payload. Shares may arrive as
// fractions or percentages; the normalizer brings them into [0,1].
const reportSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://orgimpact.dev/schemas/report-v2.json",
  "type": "object",
  "required": ["metadata", "hierarchy"],
  "properties": {
    "schemaVersion": { "type": "string" },
    "metadata": { "$ref": "#/$defs/metadata" },
    "hierarchy": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    },
    "roles": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/role" }
    },
    "visualizationHints": { "$ref": "#/$defs/hints" }
  },
  "$defs": {
    "metadata": {
      "type": "object",
      "required": ["companyName"],
      "properties": {
        "companyName": { "type": "string", "minLength": 1 },
        "companyDomain": { "type": "string" },
        "summary": { "type": "string" },
        "generator": { "type": "string" },
        "generatedAt": { "type": "string", "format": "date-time" }
      }
    },
    "share": { "type": ["number", "null"] },
    "count": { "type": ["integer", "null"], "minimum": 0 },
    "optionalId": { "type": ["string", "null"] },
    "node": {
      "type": "object",
      "properties": {
        "id": { "type": "string" },
        "name": { "type": "string" },
        "level": { "type": "integer" },
        "parentId": { "$ref": "#/$defs/optionalId" },
        "headcount": { "type": ["number", "null"] },
        "automationShare": { "$ref": "#/$defs/share" },
        "augmentationShare": { "$ref": "#/$defs/share" },
        "dominantRoleIds": {
          "type": ["array", "null"],
          "items": { "type": "string" }
        },
        "dominantRoles": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "required": ["id"],
            "properties": {
              "id": { "type": "string" },
              "headcount": { "type": ["number", "null"] }
            }
          }
        }
      }
    },
    "role": {
      "type": "object",
      "required": ["onetCode"],
      "properties": {
        "onetCode": { "type": "string" },
        "title": { "type": "string" },
        "normalizedTitle": { "type": "string" },
        "parentCluster": { "$ref": "#/$defs/optionalId" },
        "automationShare": { "$ref": "#/$defs/share" },
        "augmentationShare": { "$ref": "#/$defs/share" },
        "headcount": { "type": ["number", "null"] },
        "taskMixCounts": {
          "type": ["object", "null"],
          "properties": {
            "automation": { "$ref": "#/$defs/count" },
            "augmentation": { "$ref": "#/$defs/count" },
            "manual": { "$ref": "#/$defs/count" },
            "total": { "$ref": "#/$defs/count" }
          }
        },
        "taskMixShares": {
          "type": ["object", "null"],
          "properties": {
            "automation": { "$ref": "#/$defs/share" },
            "augmentation": { "$ref": "#/$defs/share" },
            "manual": { "$ref": "#/$defs/share" }
          }
        }
      }
    },
    "hints": {
      "type": ["object", "null"],
      "properties": {
        "highlightRoleIds": { "type": ["array", "null"], "items": { "type": "string" } },
        "collapsedNodeIds": { "type": ["array", "null"], "items": { "type": "string" } }
      }
    }
  }
}`

// legacySchemaJSON accepts the older payload shape: shares may be numeric
// strings and dominant roles are plain identifiers.
const legacySchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://orgimpact.dev/schemas/report-legacy-v1.json",
  "type": "object",
  "required": ["hierarchy"],
  "properties": {
    "metadata": {
      "type": "object",
      "properties": {
        "companyName": { "type": "string" }
      }
    },
    "hierarchy": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": { "type": "string" },
          "name": { "type": "string" },
          "parentId": { "type": ["string", "null"] },
          "headcount": { "type": ["number", "null"] },
          "automationShare": { "$ref": "#/$defs/looseShare" },
          "automationRisk": { "$ref": "#/$defs/looseShare" },
          "augmentationShare": { "$ref": "#/$defs/looseShare" },
          "augmentationPotential": { "$ref": "#/$defs/looseShare" },
          "dominantRoleIds": { "type": ["array", "null"], "items": { "type": "string" } },
          "dominantRoles": { "type": ["array", "null"], "items": { "type": "string" } }
        }
      }
    },
    "roles": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "onetCode": { "type": "string" },
          "title": { "type": "string" }
        }
      }
    }
  },
  "$defs": {
    "looseShare": { "type": ["number", "string", "null"] }
  }
}`

const requestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://orgimpact.dev/schemas/request.json",
  "type": "object",
  "required": ["companyName"],
  "properties": {
    "companyName": { "type": "string", "minLength": 1, "maxLength": 200 },
    "companyDomain": { "type": "string", "format": "hostname", "pattern": "\\." },
    "requestedBy": { "type": "string", "maxLength": 200 }
  },
  "additionalProperties": false
}`

// JSONSchemaValidator implements Validator with precompiled schemas.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	bySchemaVersion map[string]*jsonschema.Schema
	request         *jsonschema.Schema
}

var _ Validator = (*JSONSchemaValidator)(nil)

// NewJSONSchemaValidator compiles the report and request schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	resources := map[string]string{
		reportSchemaURL:  reportSchemaJSON,
		legacySchemaURL:  legacySchemaJSON,
		requestSchemaURL: requestSchemaJSON,
	}
	for url, doc := range resources {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	compile := func(url string) (*jsonschema.Schema, error) {
		s, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", url, err)
		}
		return s, nil
	}
	current, err := compile(reportSchemaURL)
	if err != nil {
		return nil, err
	}
	legacy, err := compile(legacySchemaURL)
	if err != nil {
		return nil, err
	}
	request, err := compile(requestSchemaURL)
	if err != nil {
		return nil, err
	}

	return &JSONSchemaValidator{
		bySchemaVersion: map[string]*jsonschema.Schema{
			schema.ReportVersionV2:       current,
			schema.ReportVersionLegacyV1: legacy,
			"":                           legacy,
		},
		request: request,
	}, nil
}

// ValidatePayload checks a raw report document written in the given schema
// version. An empty version is read as legacy-v1.
func (v *JSONSchemaValidator) ValidatePayload(version string, payload []byte) error {
	s, ok := v.bySchemaVersion[strings.TrimSpace(version)]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown report schema version %q", version)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "report payload is empty")
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "report payload is not valid JSON").WithCause(err)
	}
	if err := s.Validate(doc); err != nil {
		return toImpactError(err)
	}
	return nil
}

// ValidateRequest checks a report request. Names and domains are expected to
// be trimmed already; an empty domain is omitted.
func (v *JSONSchemaValidator) ValidateRequest(req *schema.ReportRequest) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "report request is nil")
	}
	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize request").WithCause(err)
	}
	if err := v.request.Validate(doc); err != nil {
		return toImpactError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(b))
}

// toImpactError flattens a jsonschema.ValidationError into an ImpactError whose
// details list every leaf violation with its instance location.
func toImpactError(err error) *schema.ImpactError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
