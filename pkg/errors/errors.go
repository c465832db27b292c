// Package errors carries the typed error model shared across the
// application: a code, a human-readable message, and an optional cause.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"

	// Provider call pipeline taxonomy.
	CodeTransport       ErrorCode = "TRANSPORT"        // DNS, connect, timeout, recv/send; retryable
	CodeServerTransient ErrorCode = "SERVER_TRANSIENT" // 5xx, 408, 429; retryable, honors Retry-After
	CodeAuth            ErrorCode = "AUTH"             // 401/403/some 400; triggers credential rotation
	CodeClientPermanent ErrorCode = "CLIENT_PERMANENT" // other 4xx; non-retryable
	CodeParse           ErrorCode = "PARSE"            // malformed provider response; non-retryable
	CodeCancelled       ErrorCode = "CANCELLED"        // interrupt requested mid-pipeline
	CodeToolError       ErrorCode = "TOOL_ERROR"       // tool reported failure; not a pipeline fault
	CodeFatalInit       ErrorCode = "FATAL_INIT"       // cannot open DB / missing credentials at startup
)

// AppError is the application's error type.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError builds an INVALID_INPUT error.
func NewInvalidInputError(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message}
}

// NewNotFoundError builds a NOT_FOUND error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewInternalError builds an INTERNAL_ERROR with a cause.
func NewInternalError(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// NewPipelineError tags an error with one of the pipeline taxonomy codes.
func NewPipelineError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

// NewFatalInitError marks a startup failure that should abort the process
// before the event loop starts.
func NewFatalInitError(message string, cause error) *AppError {
	return &AppError{Code: CodeFatalInit, Message: message, Err: cause}
}

func codeOf(err error) (ErrorCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

// IsNotFound reports whether err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeNotFound
}

// IsInvalidInput reports whether err is an INVALID_INPUT error.
func IsInvalidInput(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeInvalidInput
}

// IsRetryable reports whether the pipeline should retry an error of this code.
func IsRetryable(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == CodeTransport || code == CodeServerTransient)
}

// IsAuth reports whether an error should trigger credential rotation.
func IsAuth(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeAuth
}

// IsCancelled reports whether an error represents a cooperative cancellation.
func IsCancelled(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeCancelled
}

// IsFatalInit reports whether a startup error should abort the process.
func IsFatalInit(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeFatalInit
}
