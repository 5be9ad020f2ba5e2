package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassSchemaMismatch indicates that a template and a target disagree
	// on the kind of a field at the same position.
	ErrorClassSchemaMismatch ErrorClass = "schema_mismatch"

	// ErrorClassWriteFailure indicates that a patch or a settings write did
	// not commit.
	ErrorClassWriteFailure ErrorClass = "write_failure"

	// ErrorClassCorruptSideChannel indicates that the embedded record in an
	// annotation field could not be located or decoded.
	ErrorClassCorruptSideChannel ErrorClass = "corrupt_side_channel"

	// ErrorClassUnresolvableCallback indicates that a stored callback
	// reference matched no registered callback.
	ErrorClassUnresolvableCallback ErrorClass = "unresolvable_callback"

	// ErrorClassFilterParse indicates that a filter pattern could not be
	// interpreted for its condition.
	ErrorClassFilterParse ErrorClass = "filter_parse"

	// ErrorClassPermanent indicates a non-recoverable error such as invalid
	// configuration or a missing resource.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource path that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := e.unwrapMessage()
	switch {
	case e.Resource != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s)%s",
			e.Class, e.Message, e.Resource, e.Operation, msg)
	case e.Resource != "":
		return fmt.Sprintf("[%s] %s (resource=%s)%s", e.Class, e.Message, e.Resource, msg)
	default:
		return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, msg)
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when their class and code match.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Message: message,
		Err:     err,
	}
}

// NewSchemaMismatchError creates a new schema mismatch error.
func NewSchemaMismatchError(message string, err error) *EngineError {
	return newError(ErrorClassSchemaMismatch, message, err)
}

// NewWriteFailureError creates a new write failure error.
func NewWriteFailureError(message string, err error) *EngineError {
	return newError(ErrorClassWriteFailure, message, err)
}

// NewCorruptSideChannelError creates a new corrupt side channel error.
func NewCorruptSideChannelError(message string, err error) *EngineError {
	return newError(ErrorClassCorruptSideChannel, message, err)
}

// NewUnresolvableCallbackError creates a new unresolvable callback error.
func NewUnresolvableCallbackError(message string, err error) *EngineError {
	return newError(ErrorClassUnresolvableCallback, message, err)
}

// NewFilterParseError creates a new filter parse error.
func NewFilterParseError(message string, err error) *EngineError {
	return newError(ErrorClassFilterParse, message, err)
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(path string) *EngineError {
	e.Resource = path
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first EngineError in err's chain, or the
// empty class when err carries none.
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsWriteFailure returns true if the error is classified as a write failure.
func IsWriteFailure(err error) bool {
	return ClassOf(err) == ErrorClassWriteFailure
}

// IsSchemaMismatch returns true if the error is classified as a schema mismatch.
func IsSchemaMismatch(err error) bool {
	return ClassOf(err) == ErrorClassSchemaMismatch
}

// IsUnresolvableCallback returns true if the error is classified as an
// unresolvable callback.
func IsUnresolvableCallback(err error) bool {
	return ClassOf(err) == ErrorClassUnresolvableCallback
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return ClassOf(err) == ErrorClassPermanent
}

// IsRecoverable reports whether the pipeline should log err and continue with
// the remaining resources and tasks. Only permanent errors are not.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch ClassOf(err) {
	case ErrorClassSchemaMismatch, ErrorClassWriteFailure, ErrorClassCorruptSideChannel,
		ErrorClassUnresolvableCallback, ErrorClassFilterParse:
		return true
	default:
		return false
	}
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAlreadyExists   = "ALREADY_EXISTS"
	ErrCodeLimitExceeded   = "LIMIT_EXCEEDED"
	ErrCodeNotSettable     = "NOT_SETTABLE"
	ErrCodeCommitFailed    = "COMMIT_FAILED"
	ErrCodeCallbackFailed  = "CALLBACK_FAILED"
	ErrCodeAmbiguous       = "AMBIGUOUS"
	ErrCodeInternal        = "INTERNAL_ERROR"
	ErrCodeUnsupportedKind = "UNSUPPORTED_KIND"
)
