package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Components MUST use these instead of hardcoded strings.
const (
	// Validation (configuration and input contract failures)
	ErrCodeValidationMissingField  ErrorCode = "validation_missing_required_field"
	ErrCodeValidationUnknownFactor ErrorCode = "validation_unknown_factor"
	ErrCodeValidationWeights       ErrorCode = "validation_invalid_weights"
	ErrCodeValidationShape         ErrorCode = "validation_shape_mismatch"
	ErrCodeValidationGrid          ErrorCode = "validation_invalid_grid"
	ErrCodeValidationTarget        ErrorCode = "validation_invalid_target"
	ErrCodeValidationEventKind     ErrorCode = "validation_invalid_event_kind"
	ErrCodeValidationParams        ErrorCode = "validation_invalid_parameters"

	// Not Found
	ErrCodeNotFoundDataset ErrorCode = "not_found_dataset"
	ErrCodeNotFoundField   ErrorCode = "not_found_field"

	// Internal
	ErrCodeInternalFieldCorruption ErrorCode = "internal_field_corruption"
	ErrCodeInternalStore           ErrorCode = "internal_store_error"
	ErrCodeInternalUnexpected      ErrorCode = "internal_unexpected_error"

	// Upstream
	ErrCodeUpstreamUnavailable ErrorCode = "upstream_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// IsValidation reports whether the code is a configuration or input contract
// failure. Such errors are fatal for a run and are never retried.
func (c ErrorCode) IsValidation() bool {
	return strings.HasPrefix(string(c), "validation_")
}

// AppError is the standard error type used throughout the engine.
// Boundary failures are expressed as AppError so callers can branch on Code.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}
