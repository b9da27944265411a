// Package errors provides the single structured error type surfaced by every
// core operation, covering both generic HTTP-mappable failures and the
// workflow/AI-router-specific kinds, so the HTTP boundary (transport/http)
// can map AppError.Type to a status code mechanically instead of
// string-matching error messages.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is a stable, client-facing discriminator for AppError.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeAuth ErrorType = "auth"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeForbidden ErrorType = "forbidden"
	ErrorTypeConflict ErrorType = "conflict"
	ErrorTypeTimeout ErrorType = "timeout"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeDatabase ErrorType = "database"
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeInternal ErrorType = "internal"
	ErrorTypeGuardFailed ErrorType = "guard_failed"
	ErrorTypeUnknownTrigger ErrorType = "unknown_trigger"
	ErrorTypeAlreadyCompleted ErrorType = "already_completed"
	ErrorTypeActionFailed ErrorType = "action_failed"
	ErrorTypeAIProvider ErrorType = "ai_provider"
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeDeadlineExceeded ErrorType = "deadline_exceeded"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation: http.StatusBadRequest,
	ErrorTypeAuth: http.StatusUnauthorized,
	ErrorTypeNotFound: http.StatusNotFound,
	ErrorTypeForbidden: http.StatusForbidden,
	ErrorTypeConflict: http.StatusConflict,
	ErrorTypeTimeout: http.StatusRequestTimeout,
	ErrorTypeRateLimit: http.StatusTooManyRequests,
	ErrorTypeDatabase: http.StatusInternalServerError,
	ErrorTypeNetwork: http.StatusInternalServerError,
	ErrorTypeInternal: http.StatusInternalServerError,
	ErrorTypeGuardFailed: http.StatusUnprocessableEntity,
	ErrorTypeUnknownTrigger: http.StatusUnprocessableEntity,
	ErrorTypeAlreadyCompleted: http.StatusConflict,
	ErrorTypeActionFailed: http.StatusUnprocessableEntity,
	ErrorTypeAIProvider: http.StatusBadGateway,
	ErrorTypeCancelled: http.StatusServiceUnavailable,
	ErrorTypeDeadlineExceeded: http.StatusGatewayTimeout,
}

// AppError is the single error type every core operation returns.
type AppError struct {
	Type ErrorType
	Message string
	Details string
	StatusCode int
	Cause error
}

// New creates an AppError of the given type with no cause.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type: t,
		Message: message,
		StatusCode: statusCode(t),
	}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args...any) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap attaches an existing error as the Cause of a new AppError.
func Wrap(cause error, t ErrorType, message string) *AppError {
	err := New(t, message)
	err.Cause = cause
	return err
}

// Wrapf wraps with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details in place and returns the same error for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf sets formatted Details in place.
func (e *AppError) WithDetailsf(format string, args...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		s += fmt.Sprintf(" (%s)", e.Details)
	}
	return s
}

// Unwrap exposes the underlying cause to errors.Is/errors.As.
func (e *AppError) Unwrap() error { return e.Cause }

func statusCode(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Predefined constructors, mirroring the common ergonomics.

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewForbiddenError(message string) *AppError { return New(ErrorTypeForbidden, message) }

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewConflictError(message string) *AppError { return New(ErrorTypeConflict, message) }

func NewGuardFailedError(trigger string) *AppError {
	return Newf(ErrorTypeGuardFailed, "guard rejected trigger: %s", trigger)
}

func NewUnknownTriggerError(trigger, state string) *AppError {
	return Newf(ErrorTypeUnknownTrigger, "trigger %q is not defined for state %q", trigger, state)
}

func NewAlreadyCompletedError(instanceID string) *AppError {
	return Newf(ErrorTypeAlreadyCompleted, "instance %s already reached a terminal state", instanceID)
}

func NewActionFailedError(actionName string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeActionFailed, "on-enter action %q failed", actionName)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType returns the ErrorType of err, or ErrorTypeInternal for plain errors.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code err maps to.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorMessages holds the generic, client-safe strings used by
// SafeErrorMessage for error types whose Message may leak internal detail.
var ErrorMessages = struct {
	ResourceNotFound string
	AuthenticationFailed string
	OperationTimeout string
	RateLimitExceeded string
	ConcurrentModification string
	InternalError string
}{
	ResourceNotFound: "The requested resource was not found",
	AuthenticationFailed: "Authentication failed",
	OperationTimeout: "The operation timed out, please try again",
	RateLimitExceeded: "Rate limit exceeded, please try again later",
	ConcurrentModification: "The resource was modified concurrently, please retry",
	InternalError: "An internal error occurred",
}

// SafeErrorMessage returns a message safe to return to an API caller,
// hiding internal details for everything except validation errors (whose
// Message is already caller-facing).
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	case ErrorTypeDatabase, ErrorTypeNetwork, ErrorTypeInternal:
		return ErrorMessages.InternalError
	default:
		return appErr.Message
	}
}

// LogFields renders err as structured fields suitable for a logrus/zap
// logging call.
func LogFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain returns the first non-nil error among errs, filtering out nils, or
// nil if every argument was nil. It is used where a caller gathers several
// independent best-effort operations (e.g. post-commit actions) and wants to
// surface only the first failure.
func Chain(errs...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
