package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Lookup errors (NOT_FOUND_*)
	ErrorCodeTxnNotFound      ErrorCode = "NOT_FOUND_TRANSACTION"
	ErrorCodeProviderNotFound ErrorCode = "NOT_FOUND_PROVIDER"

	// State machine errors (ILLEGAL_STATE_*)
	ErrorCodeIllegalState    ErrorCode = "ILLEGAL_STATE"
	ErrorCodeVersionConflict ErrorCode = "ILLEGAL_STATE_VERSION_CONFLICT"

	// Validation errors (VALIDATION_*)
	ErrorCodeValidationFailed        ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationAmountInvalid ErrorCode = "VALIDATION_AMOUNT_INVALID"
	ErrorCodeValidationRateInvalid   ErrorCode = "VALIDATION_RATE_INVALID"
	ErrorCodeValidationMismatch      ErrorCode = "VALIDATION_PROVIDER_MISMATCH"
	ErrorCodeValidationMissingField  ErrorCode = "VALIDATION_MISSING_FIELD"

	// Provider errors (PROVIDER_*)
	ErrorCodeProviderCapability ErrorCode = "PROVIDER_CAPABILITY"
	ErrorCodeProviderError      ErrorCode = "PROVIDER_ERROR"

	// Idempotency (ALREADY_*)
	ErrorCodeAlreadyProcessed ErrorCode = "ALREADY_PROCESSED"

	// Internal errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err       error
	Details   map[string]interface{}
	Code      ErrorCode
	Message   string
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// NewValidationError creates a VALIDATION error naming the offending field and value
func NewValidationError(field string, value interface{}, message string) *DomainError {
	e := NewDomainError(ErrorCodeValidationFailed, message)
	e.Details["field"] = field
	e.Details["value"] = value
	return e
}

// NewAmountError creates a VALIDATION_AMOUNT_INVALID error for monetary bound violations
func NewAmountError(field string, value interface{}, message string) *DomainError {
	e := NewDomainError(ErrorCodeValidationAmountInvalid, message)
	e.Details["field"] = field
	e.Details["value"] = value
	return e
}

// NewRateError creates a VALIDATION_RATE_INVALID error for rates outside [0,1]
func NewRateError(field string, value interface{}, message string) *DomainError {
	e := NewDomainError(ErrorCodeValidationRateInvalid, message)
	e.Details["field"] = field
	e.Details["value"] = value
	return e
}

// NewMissingFieldError creates a VALIDATION_MISSING_FIELD error for absent required input
func NewMissingFieldError(field string) *DomainError {
	e := NewDomainError(ErrorCodeValidationMissingField, fmt.Sprintf("%s is required", field))
	e.Details["field"] = field
	return e
}

// NewIllegalStateError creates an ILLEGAL_STATE error describing the rejected transition
func NewIllegalStateError(current, required string) *DomainError {
	e := NewDomainError(ErrorCodeIllegalState,
		fmt.Sprintf("operation requires state %s, current state is %s", required, current))
	e.Details["current"] = current
	e.Details["required"] = required
	return e
}

// NewProviderError wraps an upstream gateway failure. retryable marks opaque
// transport failures the caller may retry; declined payments are not retryable.
func NewProviderError(provider string, err error, retryable bool) *DomainError {
	return &DomainError{
		Code:      ErrorCodeProviderError,
		Message:   fmt.Sprintf("provider %s call failed", provider),
		Details:   map[string]interface{}{"provider": provider},
		Err:       err,
		Retryable: retryable,
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeTxnNotFound || code == ErrorCodeProviderNotFound
}

// IsIllegalState checks if an error is a state machine violation
func IsIllegalState(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeIllegalState || code == ErrorCodeVersionConflict
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationAmountInvalid ||
		code == ErrorCodeValidationRateInvalid ||
		code == ErrorCodeValidationMismatch ||
		code == ErrorCodeValidationMissingField
}

// IsAlreadyProcessed checks whether an error is the idempotent no-op marker
func IsAlreadyProcessed(err error) bool {
	return GetErrorCode(err) == ErrorCodeAlreadyProcessed
}

// IsRetryable reports whether the error carries a retryable provider failure
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	return false
}

// Structured error instances
var (
	ErrTxnNotFound      = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")
	ErrProviderNotFound = NewDomainError(ErrorCodeProviderNotFound, "payment provider not registered")

	ErrIllegalState    = NewDomainError(ErrorCodeIllegalState, "transaction is in invalid state for this operation")
	ErrVersionConflict = NewDomainError(ErrorCodeVersionConflict, "transaction was modified concurrently")

	ErrValidationFailed        = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrValidationAmountInvalid = NewDomainError(ErrorCodeValidationAmountInvalid, "invalid amount")

	ErrProviderCapability = NewDomainError(ErrorCodeProviderCapability, "provider does not support this operation")

	ErrAlreadyProcessed = NewDomainError(ErrorCodeAlreadyProcessed, "operation already processed")

	ErrInternalError = NewDomainError(ErrorCodeInternalError, "internal error")
	ErrDatabaseError = NewDomainError(ErrorCodeDatabaseError, "database error")
)
