package validation

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/orgimpact/pkg/schema"
)

const validV2 = `{
  "schemaVersion": "v2",
  "metadata": {"companyName": "Acme", "companyDomain": "acme.example"},
  "hierarchy": [
    {"id": "root", "name": "Acme", "level": 0, "parentId": null, "headcount": 100, "automationShare": 0.3,
     "dominantRoles": [{"id": "11-1021.00", "headcount": 2}]},
    {"id": "eng", "name": "Engineering", "level": 1, "parentId": "root", "headcount": 60, "automationShare": 42,
     "dominantRoleIds": ["15-1252.00"]}
  ],
  "roles": [
    {"onetCode": "15-1252.00", "title": "Software Developers",
     "taskMixCounts": {"automation": 3, "augmentation": 5, "manual": 2, "total": 10}},
    {"onetCode": "11-1021.00", "title": "General and Operations Managers"}
  ],
  "visualizationHints": {"highlightRoleIds": ["15-1252.00"]}
}`

const validLegacy = `{
  "metadata": {"companyName": "Acme"},
  "hierarchy": [
    {"id": "root", "name": "Acme", "parentId": null, "headcount": 10, "automationRisk": "35"},
    {"id": "ops", "name": "Ops", "parentId": "root", "dominantRoles": ["43-4051.00"]}
  ]
}`

func newValidator(t *testing.T) *ReportValidator {
	t.Helper()
	v, err := NewReportValidator()
	require.NoError(t, err)
	return v
}

func violations(t *testing.T, err error) []string {
	t.Helper()
	var ie *schema.ImpactError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, schema.ErrCodeValidation, ie.Code)
	v, _ := ie.Details["violations"].([]string)
	return v
}

// --- Payload schema ---

func TestValidatePayload_CurrentVersion(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidatePayload(schema.ReportVersionV2, []byte(validV2)))
}

func TestValidatePayload_LegacyAndEmptyVersion(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidatePayload(schema.ReportVersionLegacyV1, []byte(validLegacy)))
	assert.NoError(t, v.ValidatePayload("", []byte(validLegacy)))
	assert.NoError(t, v.ValidatePayload(" v2 ", []byte(validV2)))
}

func TestValidatePayload_UnknownVersion(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	err = v.ValidatePayload("v9", []byte(validV2))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
	assert.Contains(t, err.Error(), "v9")
}

func TestValidatePayload_EmptyAndMalformed(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidatePayload(schema.ReportVersionV2, []byte("  "))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	err = v.ValidatePayload(schema.ReportVersionV2, []byte("{not json"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
}

func TestValidatePayload_MissingCompanyName(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidatePayload(schema.ReportVersionV2, []byte(`{"metadata": {}, "hierarchy": []}`))
	require.Error(t, err)
	vs := violations(t, err)
	require.Len(t, vs, 1)
	assert.Contains(t, vs[0], "/metadata")
}

func TestValidatePayload_MultipleViolations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	payload := `{
	  "metadata": {"companyName": "Acme"},
	  "hierarchy": [{"id": 7, "headcount": "many"}],
	  "roles": [{"title": "no code"}]
	}`
	err = v.ValidatePayload(schema.ReportVersionV2, []byte(payload))
	require.Error(t, err)
	vs := violations(t, err)
	assert.GreaterOrEqual(t, len(vs), 3)
	assert.Contains(t, err.Error(), "validation failed with")
}

func TestValidatePayload_LegacyRejectsObjectDominantRoles(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	payload := `{"hierarchy": [{"id": "a", "dominantRoles": [{"id": "x"}]}]}`
	assert.Error(t, v.ValidatePayload(schema.ReportVersionLegacyV1, []byte(payload)))
	assert.NoError(t, v.ValidatePayload(schema.ReportVersionV2, []byte(`{"metadata":{"companyName":"A"},"hierarchy":[{"id":"a","dominantRoles":[{"id":"x"}]}]}`)))
}

func TestValidatePayload_Concurrent(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = v.ValidatePayload(schema.ReportVersionV2, []byte(validV2))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}

// --- Requests ---

func TestValidateRequest(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		req     *schema.ReportRequest
		wantErr bool
	}{
		{"name only", &schema.ReportRequest{CompanyName: "Acme"}, false},
		{"name and domain", &schema.ReportRequest{CompanyName: "Acme", CompanyDomain: "acme.example"}, false},
		{"empty name", &schema.ReportRequest{}, true},
		{"url instead of domain", &schema.ReportRequest{CompanyName: "Acme", CompanyDomain: "https://acme.example"}, true},
		{"bare label", &schema.ReportRequest{CompanyName: "Acme", CompanyDomain: "localhost"}, true},
		{"long name", &schema.ReportRequest{CompanyName: string(make([]byte, 201))}, true},
		{"nil", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateRequest(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, schema.ErrCodeValidation, schema.ErrorCode(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- Full pipeline ---

func TestReportValidator_Valid(t *testing.T) {
	v := newValidator(t)
	report, result := v.Validate(schema.ReportVersionV2, []byte(validV2))
	require.True(t, result.Valid(), "errors: %v", result.Errors)
	require.NotNil(t, report)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, "Acme", report.Metadata.CompanyName)
	require.Len(t, report.Hierarchy, 2)
	require.NotNil(t, report.Hierarchy[1].AutomationShare)
	assert.InDelta(t, 0.42, *report.Hierarchy[1].AutomationShare, 1e-9)
}

func TestReportValidator_LegacyWarnsUnknownRole(t *testing.T) {
	v := newValidator(t)
	report, result := v.Validate("", []byte(validLegacy))
	require.True(t, result.Valid())
	require.NotNil(t, report)
	assert.Equal(t, schema.ReportVersionCurrent, report.SchemaVersion)
	assert.True(t, result.HasCode(schema.IssueUnknownRole))
	assert.NoError(t, v.ValidatePayload("", []byte(validLegacy)))
}

func TestReportValidator_StructuralShortCircuits(t *testing.T) {
	v := newValidator(t)
	report, result := v.Validate(schema.ReportVersionV2, []byte(`{"hierarchy": "nope"}`))
	assert.Nil(t, report)
	assert.False(t, result.Valid())
	assert.Empty(t, result.Warnings)

	err := v.ValidatePayload(schema.ReportVersionV2, []byte(`{"hierarchy": "nope"}`))
	require.Error(t, err)
}

func TestReportValidator_ValidateRequestDelegates(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidateRequest(&schema.ReportRequest{CompanyName: "Acme"}))
	assert.Error(t, v.ValidateRequest(&schema.ReportRequest{}))
}

// --- Hierarchy diagnostics ---

func TestCheckHierarchy_Empty(t *testing.T) {
	result := CheckHierarchy(&schema.OrgReport{})
	assert.True(t, result.Valid())
	assert.True(t, result.HasCode(schema.IssueEmptyHierarchy))

	assert.True(t, CheckHierarchy(nil).HasCode(schema.IssueEmptyHierarchy))
}

func TestCheckHierarchy_StructuralProblemsAreWarnings(t *testing.T) {
	report := &schema.OrgReport{
		Hierarchy: []schema.HierarchyNode{
			{ID: "a", Name: "A"},
			{ID: "a", Name: "A again"},
			{ID: "b", Name: "B", ParentID: schema.Ptr("b")},
			{ID: "c", Name: "C", ParentID: schema.Ptr("ghost")},
			{ID: "d", Name: "D", ParentID: schema.Ptr("e")},
			{ID: "e", Name: "E", ParentID: schema.Ptr("d")},
		},
	}
	result := CheckHierarchy(report)
	assert.True(t, result.Valid())
	for _, code := range []string{
		schema.IssueDuplicateNode,
		schema.IssueSelfParent,
		schema.IssueUnknownParent,
		schema.IssueParentCycle,
	} {
		assert.True(t, result.HasCode(code), code)
	}
}

func TestCheckHierarchy_KnownRolesByTitle(t *testing.T) {
	report := &schema.OrgReport{
		Hierarchy: []schema.HierarchyNode{
			{ID: "a", Name: "A", DominantRoleIDs: []string{"Software Developers"}},
		},
		Roles: []schema.Role{{OnetCode: "15-1252.00", Title: "Software Developers"}},
	}
	result := CheckHierarchy(report)
	assert.Empty(t, result.Warnings)
}
