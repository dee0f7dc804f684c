// Package errors provides the error taxonomy shared by every teamwork
// component. It defines the coordination error codes, typed errors carrying
// those codes, and classification helpers used at the API boundary.
//
// # Error Classes
//
// Errors fall into four classes:
//
//   - Validation errors ([ValidationError]): bad input shape. Returned before
//     any state is touched.
//   - Conflict errors ([ConflictError]): expected races such as a claim
//     conflict, an already-terminal task, or a duplicate pending dispatch.
//     Cheap and side-effect free.
//   - Transport errors ([TransportError]): notifier or spawner failures. The
//     dispatch coordinator and lifecycle manager convert these into recorded
//     outcomes instead of returning them.
//   - Everything else (I/O failures reading the state store) is fatal and
//     propagates to the caller unchanged.
//
// # Usage
//
//	err := errors.NewConflictError(errors.CodeClaimConflict, "task", "7").
//	    WithMessage("task is already in progress")
//
//	if errors.Is(err, errors.ErrClaimConflict) { ... }
//	code := errors.CodeOf(err) // "claim_conflict"
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Code is a stable, machine-readable error identifier surfaced in API results.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeNotFound          Code = "not_found"
	CodeClaimConflict     Code = "claim_conflict"
	CodeAlreadyTerminal   Code = "already_terminal"
	CodeInvalidTransition Code = "invalid_transition"
	CodeBlockedDependency Code = "blocked_dependency"
	CodeDuplicateDispatch Code = "duplicate_pending_dispatch_request"
	CodeScalingDisabled   Code = "scaling_disabled"
	CodeTransport         Code = "transport"
	CodeLockTimeout       Code = "lock_timeout"
	CodeInternal          Code = "internal"
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Sentinels matched by errors.Is against the typed errors below.
var (
	ErrInvalidInput       = New("invalid input")
	ErrNotFound           = New("not found")
	ErrClaimConflict      = New("claim conflict")
	ErrAlreadyTerminal    = New("task already terminal")
	ErrInvalidTransition  = New("invalid status transition")
	ErrBlockedDependency  = New("blocked by unfinished dependency")
	ErrDuplicateDispatch  = New("duplicate pending dispatch request")
	ErrScalingDisabled    = New("scaling disabled")
	ErrTransport          = New("transport failure")
	ErrLockTimeout        = New("lock acquisition timed out")
	ErrNotEnoughIdle      = New("not enough idle workers")
	ErrBelowMinimumWorker = New("team must keep at least one worker")
)

var sentinelByCode = map[Code]error{
	CodeValidation:        ErrInvalidInput,
	CodeNotFound:          ErrNotFound,
	CodeClaimConflict:     ErrClaimConflict,
	CodeAlreadyTerminal:   ErrAlreadyTerminal,
	CodeInvalidTransition: ErrInvalidTransition,
	CodeBlockedDependency: ErrBlockedDependency,
	CodeDuplicateDispatch: ErrDuplicateDispatch,
	CodeScalingDisabled:   ErrScalingDisabled,
	CodeTransport:         ErrTransport,
	CodeLockTimeout:       ErrLockTimeout,
}

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// CodedError is implemented by every typed error in this package.
type CodedError interface {
	error

	// Code returns the machine-readable error code.
	Code() Code

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// baseError provides common functionality for all error types.
type baseError struct {
	code    Code
	message string
	cause   error
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *baseError) Code() Code {
	return e.code
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is matches the sentinel registered for the error's code, then the cause.
func (e *baseError) Is(target error) bool {
	if s, ok := sentinelByCode[e.code]; ok && s == target {
		return true
	}
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Validation
// -----------------------------------------------------------------------------

// ValidationError represents invalid input. It never accompanies a mutation.
//
// Example:
//
//	err := errors.NewValidationError("lifecycle field cannot be updated directly").
//	    WithField("status")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{code: CodeValidation, message: message},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Not Found
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "12")
//	fmt.Println(err) // "task '12' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			code:    CodeNotFound,
			message: fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Conflict
// -----------------------------------------------------------------------------

// ConflictError represents an expected concurrency conflict: a claim race, a
// terminal task, an invalid transition, an unfinished dependency, or a
// duplicate pending dispatch.
type ConflictError struct {
	baseError
	Resource string
	ID       string
}

// NewConflictError creates a ConflictError for the given code and resource.
func NewConflictError(code Code, resource, id string) *ConflictError {
	return &ConflictError{
		baseError: baseError{code: code, message: string(code)},
		Resource:  resource,
		ID:        id,
	}
}

// WithMessage replaces the default message (the code itself).
func (e *ConflictError) WithMessage(format string, args ...any) *ConflictError {
	e.message = fmt.Sprintf(format, args...)
	return e
}

// Error returns the formatted error message.
func (e *ConflictError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s [%s=%s]: %s", e.code, e.Resource, e.ID, e.message)
}

// Is checks if this error matches the target.
func (e *ConflictError) Is(target error) bool {
	if _, ok := target.(*ConflictError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

// TransportError represents a notifier, spawner, or pane failure.
type TransportError struct {
	baseError
	Transport string
	Target    string
}

// NewTransportError creates a TransportError.
func NewTransportError(transport, target string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			code:    CodeTransport,
			message: fmt.Sprintf("%s delivery to %s failed", transport, target),
			cause:   cause,
		},
		Transport: transport,
		Target:    target,
	}
}

// Is checks if this error matches the target.
func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Coded errors without extra context
// -----------------------------------------------------------------------------

// Coded wraps a sentinel-style failure with a code and message, for errors
// such as "scaling disabled" that carry no resource context.
func Coded(code Code, message string) error {
	return &baseError{code: code, message: message}
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// CodeOf returns the code of the first CodedError in err's chain, or
// CodeInternal when none is present.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var coded CodedError
	if As(err, &coded) {
		return coded.Code()
	}
	for code, sentinel := range sentinelByCode {
		if Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// FieldOf returns the offending field of a ValidationError in err's chain.
func FieldOf(err error) string {
	var v *ValidationError
	if As(err, &v) {
		return v.Field
	}
	return ""
}

// IsExpected reports whether err is a validation, not-found, or conflict error,
// i.e. a structured failure the caller should report rather than treat as fatal.
func IsExpected(err error) bool {
	switch CodeOf(err) {
	case "", CodeInternal, CodeTransport:
		return false
	default:
		return true
	}
}

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
