package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeInvalidOption     = "INVALID_OPTION"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeGenerationFailed  = "GENERATION_FAILED"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
)

// ImpactError is the structured error type shared by every layer of the service.
type ImpactError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ImpactError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("[%s] run %s: %s", e.Code, e.RunID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ImpactError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure is transient.
func (e *ImpactError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeTimeout, ErrCodeGenerationFailed, ErrCodeStore:
		return true
	}
	return false
}

// NewError creates a new ImpactError.
func NewError(code, message string) *ImpactError {
	return &ImpactError{Code: code, Message: message}
}

// NewErrorf creates a new ImpactError with a formatted message.
func NewErrorf(code, format string, args ...any) *ImpactError {
	return &ImpactError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRun attaches a run ID to the error.
func (e *ImpactError) WithRun(runID string) *ImpactError {
	e.RunID = runID
	return e
}

// WithCause attaches an underlying cause.
func (e *ImpactError) WithCause(err error) *ImpactError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ImpactError) WithDetails(details map[string]any) *ImpactError {
	e.Details = details
	return e
}

// ErrorCode extracts the code of the first ImpactError in err's chain.
// It returns "" when there is none.
func ErrorCode(err error) string {
	var ie *ImpactError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
