package core

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors for handling decisions.
type ErrorCategory string

const (
	ErrCatValidation      ErrorCategory = "validation"       // Detected before any run
	ErrCatToolUnavailable ErrorCategory = "tool_unavailable" // Missing capability, privilege or platform
	ErrCatCollection      ErrorCategory = "collection"       // Transient collector failure
	ErrCatTimeout         ErrorCategory = "timeout"          // Bounded wait expired
	ErrCatContract        ErrorCategory = "contract"         // Harness misuse
	ErrCatNotFound        ErrorCategory = "not_found"        // Resource not found
	ErrCatInternal        ErrorCategory = "internal"         // Unexpected internal error
)

// DomainError represents a structured error from the diagnostics layer.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause wraps an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds contextual information.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrValidation creates a validation error.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatValidation,
		Code:     code,
		Message:  message,
	}
}

// ErrToolUnavailable creates an error for a collector that cannot run on this host.
func ErrToolUnavailable(tool, message string) *DomainError {
	return &DomainError{
		Category: ErrCatToolUnavailable,
		Code:     CodeToolUnavailable,
		Message:  fmt.Sprintf("%s: %s", tool, message),
		Details:  map[string]interface{}{"tool": tool},
	}
}

// ErrCollection creates a transient collection error.
func ErrCollection(code, message string) *DomainError {
	return &DomainError{
		Category:  ErrCatCollection,
		Code:      code,
		Message:   message,
		Retryable: true,
	}
}

// ErrTimeout creates a timeout error.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// ErrContract creates a contract violation. These are raised with panic:
// they signal harness misuse and are never recovered by the diagnoser guard.
func ErrContract(code, message string) *DomainError {
	return &DomainError{
		Category: ErrCatContract,
		Code:     code,
		Message:  message,
	}
}

// ErrNotFound creates a not found error.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     "NOT_FOUND",
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrInternal creates an internal error.
func ErrInternal(message string) *DomainError {
	return &DomainError{
		Category: ErrCatInternal,
		Code:     "INTERNAL",
		Message:  message,
	}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Retryable
	}
	return false
}

// GetCategory extracts the error category.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory checks if an error belongs to a category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsContractViolation reports whether a recovered panic value is a contract violation.
func IsContractViolation(v interface{}) bool {
	err, ok := v.(error)
	if !ok {
		return false
	}
	return IsCategory(err, ErrCatContract)
}

// Predefined error codes
const (
	CodeCompositeRunMode  = "COMPOSITE_RUN_MODE"
	CodeNoProcess         = "NO_PROCESS"
	CodeToolUnavailable   = "TOOL_UNAVAILABLE"
	CodeInstallFailed     = "INSTALL_FAILED"
	CodeReadyTimeout      = "READY_TIMEOUT"
	CodeStopTimeout       = "STOP_TIMEOUT"
	CodeCollectorCrashed  = "COLLECTOR_CRASHED"
	CodeTruncatedTrace    = "TRUNCATED_TRACE"
	CodeArtifactMissing   = "ARTIFACT_MISSING"
	CodePathTooLong       = "PATH_TOO_LONG"
	CodeFatalValidation   = "FATAL_VALIDATION"
	CodeExclusiveConflict = "EXCLUSIVE_CONFLICT"
	CodeDiagnoserPanic    = "DIAGNOSER_PANIC"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeProtocol          = "PROTOCOL"
	CodeWorkerFailed      = "WORKER_FAILED"
)
