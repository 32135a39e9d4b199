// Package errors provides the structured error system used across the
// plugin: stable error codes, categories derived from the code, and
// cause wrapping compatible with the standard errors package.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a failure class. Codes are stable strings so they
// can be matched across process boundaries and asserted in tests.
type ErrorCode string

const (
	// Path errors: always a caller bug, never retried.
	ErrCodePathInvalid ErrorCode = "PATH_INVALID"

	// Storage errors: outcomes of remote stage operations.
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	ErrCodeRemoteIO       ErrorCode = "REMOTE_IO"
	ErrCodeDigestMismatch ErrorCode = "DIGEST_MISMATCH"

	// Pool errors.
	ErrCodePoolExhausted ErrorCode = "POOL_EXHAUSTED"
	ErrCodePoolClosed    ErrorCode = "POOL_CLOSED"

	// Stream errors.
	ErrCodeStreamClosed ErrorCode = "STREAM_CLOSED"

	// Contract-usage errors.
	ErrCodeUnsupported     ErrorCode = "UNSUPPORTED"
	ErrCodeIllegalState    ErrorCode = "ILLEGAL_STATE"
	ErrCodeIllegalArgument ErrorCode = "ILLEGAL_ARGUMENT"

	// Configuration errors.
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
)

// ErrorCategory groups codes for logging and metrics labels.
type ErrorCategory string

const (
	CategoryPath    ErrorCategory = "path"
	CategoryStorage ErrorCategory = "storage"
	CategoryPool    ErrorCategory = "pool"
	CategoryStream  ErrorCategory = "stream"
	CategoryUsage   ErrorCategory = "usage"
	CategoryConfig  ErrorCategory = "config"
)

// PluginError is the structured error carried by every failure this
// module reports. The Cause chain remains reachable through Unwrap so
// callers can use errors.Is/errors.As against wrapped transport errors.
type PluginError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	// Path is the offending stage path in string form, when one exists.
	Path string `json:"path,omitempty"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Details map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	// Retryable hints to the calling orchestration layer; this module
	// never retries on its own.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		if e.Operation != "" {
			fmt.Fprintf(&b, "[%s:%s] ", e.Component, e.Operation)
		} else {
			fmt.Fprintf(&b, "[%s] ", e.Component)
		}
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Path != "" {
		fmt.Fprintf(&b, " (path=%s)", e.Path)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for error-chain traversal.
func (e *PluginError) Unwrap() error {
	return e.Cause
}

// Is matches two PluginErrors by code, so
// errors.Is(err, &PluginError{Code: ErrCodeNotFound}) holds for any
// not-found error regardless of message or path.
func (e *PluginError) Is(target error) bool {
	if t, ok := target.(*PluginError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a PluginError with the category derived from the code.
func New(code ErrorCode, message string) *PluginError {
	return &PluginError{
		Code:      code,
		Category:  CategoryOf(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableByDefault(code),
	}
}

// Newf creates a PluginError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *PluginError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a PluginError carrying cause as the wrapped error.
func Wrap(code ErrorCode, message string, cause error) *PluginError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// Wrapf creates a PluginError with a formatted message carrying cause as
// the wrapped error.
func Wrapf(code ErrorCode, cause error, format string, args ...interface{}) *PluginError {
	e := Newf(code, format, args...)
	e.Cause = cause
	return e
}

// CategoryOf derives the category from the code prefix.
func CategoryOf(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "PATH_"):
		return CategoryPath
	case strings.HasPrefix(s, "POOL_"):
		return CategoryPool
	case strings.HasPrefix(s, "STREAM_"):
		return CategoryStream
	case strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfig
	case strings.HasPrefix(s, "ILLEGAL_") || s == string(ErrCodeUnsupported):
		return CategoryUsage
	default:
		return CategoryStorage
	}
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeRemoteIO, ErrCodePoolExhausted:
		return true
	default:
		return false
	}
}

// WithPath records the offending stage path.
func (e *PluginError) WithPath(path string) *PluginError {
	e.Path = path
	return e
}

// WithComponent records the reporting component.
func (e *PluginError) WithComponent(component string) *PluginError {
	e.Component = component
	return e
}

// WithOperation records the operation that failed.
func (e *PluginError) WithOperation(operation string) *PluginError {
	e.Operation = operation
	return e
}

// WithDetail attaches a key/value pair for diagnostics.
func (e *PluginError) WithDetail(key string, value interface{}) *PluginError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the wrapped cause.
func (e *PluginError) WithCause(cause error) *PluginError {
	e.Cause = cause
	return e
}

// As extracts a PluginError from an error chain.
func As(err error) (*PluginError, bool) {
	var pe *PluginError
	if stderrors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// CodeOf returns the error code carried by err, or "" when err carries
// none.
func CodeOf(err error) ErrorCode {
	if pe, ok := As(err); ok {
		return pe.Code
	}
	return ""
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsInvalidPath reports whether err is a path-construction failure.
func IsInvalidPath(err error) bool { return CodeOf(err) == ErrCodePathInvalid }

// IsAlreadyExists reports whether err is a target-collision failure.
func IsAlreadyExists(err error) bool { return CodeOf(err) == ErrCodeAlreadyExists }

// IsUnsupported reports whether err marks an operation with no remote
// equivalent.
func IsUnsupported(err error) bool { return CodeOf(err) == ErrCodeUnsupported }

// IsPoolExhausted reports whether err is a hard acquire-limit failure.
func IsPoolExhausted(err error) bool { return CodeOf(err) == ErrCodePoolExhausted }

// IsRemoteIO reports whether err is an unclassified protocol or
// transport failure.
func IsRemoteIO(err error) bool { return CodeOf(err) == ErrCodeRemoteIO }

// IsStreamClosed reports whether err came from writing a closed stream.
func IsStreamClosed(err error) bool { return CodeOf(err) == ErrCodeStreamClosed }
