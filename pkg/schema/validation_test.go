package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError("hierarchy[0].id", ErrCodeValidation, "id is required")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "hierarchy[0].id", r.Errors[0].Path)
	assert.Equal(t, ErrCodeValidation, r.Errors[0].Code)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_WarningsKeepResultValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("hierarchy[2].parentId", IssueUnknownParent, "parent \"x\" not found")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.True(t, r.HasCode(IssueUnknownParent))
	assert.False(t, r.HasCode(IssueSelfParent))
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")
	r1.AddWarning("/", IssueDuplicateNode, "warn1")

	r2 := &ValidationResult{}
	r2.AddError("hierarchy", ErrCodeValidation, "err2")
	r2.AddWarning("hierarchy[1]", IssueParentCycle, "warn2")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 2)
	assert.True(t, r1.HasCode(IssueParentCycle))
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning("/", IssueEmptyHierarchy, "no nodes")
	assert.Nil(t, r.ToError())

	r.AddError("metadata", ErrCodeValidation, "metadata is required")
	err := r.ToError()
	require.Error(t, err)

	var ie *ImpactError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, ErrCodeValidation, ie.Code)
	assert.Equal(t, "metadata is required", ie.Message)
	assert.Equal(t, 1, ie.Details["error_count"])
	assert.Equal(t, 1, ie.Details["warning_count"])

	r.AddError("roles", ErrCodeValidation, "roles must be an array")
	ie = r.ToError().(*ImpactError)
	assert.Contains(t, ie.Message, "2 errors")
}

// --- ImpactError ---

func TestImpactError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeNotFound, "report %s not found", "r1")
	assert.Equal(t, "[NOT_FOUND] report r1 not found", err.Error())

	err = NewError(ErrCodeGenerationFailed, "generator returned 502").WithRun("run-1")
	assert.Equal(t, "[GENERATION_FAILED] run run-1: generator returned 502", err.Error())
}

func TestImpactError_UnwrapAndCode(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodeStore, "save report").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeStore, ErrorCode(err))
	assert.Equal(t, "", ErrorCode(cause))
}

func TestImpactError_IsRetryable(t *testing.T) {
	assert.True(t, NewError(ErrCodeTimeout, "").IsRetryable())
	assert.True(t, NewError(ErrCodeGenerationFailed, "").IsRetryable())
	assert.True(t, NewError(ErrCodeStore, "").IsRetryable())
	assert.False(t, NewError(ErrCodeValidation, "").IsRetryable())
	assert.False(t, NewError(ErrCodeCircuitOpen, "").IsRetryable())
}
