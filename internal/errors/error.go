package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the value type services return for every failure in the closed
// taxonomy. Handlers translate it to the wire envelope without inspecting
// messages; the code alone decides status and retryability.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New creates a taxonomy error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a single detail field and returns the error for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsError extracts a taxonomy *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if stderrors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// CodeOf returns the taxonomy code for any error. Errors that are not
// taxonomy values collapse to internal_error, which is what the wire
// surfaces for unclassified faults.
func CodeOf(err error) ErrorCode {
	if te, ok := AsError(err); ok {
		return te.Code
	}
	return ErrCodeInternalError
}

// Is reports whether err carries the given taxonomy code.
func Is(err error, code ErrorCode) bool {
	te, ok := AsError(err)
	return ok && te.Code == code
}
