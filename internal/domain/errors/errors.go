package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies errors raised by the orchestration core.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       "CONFLICT",
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewDefinitionError reports a malformed workflow definition. Raised at
// registration time only; a definition that registers cleanly never produces
// one at run time.
func NewDefinitionError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

// NewStepExecutionError reports a step handler failure. Retryable per the
// step's retry policy.
func NewStepExecutionError(stepID, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       "STEP_EXECUTION_ERROR",
		Message:    message,
		Details:    map[string]interface{}{"step_id": stepID},
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewRuleEvaluationError reports a monitoring rule that could not be evaluated
// against the current metric snapshot. The rule's cycle is skipped; sibling
// rules are unaffected.
func NewRuleEvaluationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       "RULE_EVALUATION_ERROR",
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

// NewOracleUnavailableError reports an assessment oracle failure or timeout.
// Surfaces as a step execution failure for any step that calls the oracle.
func NewOracleUnavailableError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "ORACLE_UNAVAILABLE",
		Message:    message,
		Retryable:  true,
		StatusCode: 502,
	}
}

// IsRetryable reports whether err (or any error it wraps) is retryable.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// Code extracts the structured error code, or "UNKNOWN" for plain errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}
