// Package status defines the result codes returned across the capture core.
//
// Every client-facing call returns either nil or an *Error carrying one of the
// codes below. Expected conditions such as an empty or full queue use CodeNoMore
// and are meant to be handled by the caller, not treated as faults.
package status

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure.
type Code string

// Result codes.
const (
	CodeBadParam         Code = "BAD_PARAM"
	CodeBadHandle        Code = "BAD_HANDLE"
	CodeBadState         Code = "BAD_STATE"
	CodeNoMore           Code = "NO_MORE"
	CodeResourceNotFound Code = "RESOURCE_NOT_FOUND"
	CodeNoMemory         Code = "NO_MEMORY"
	CodeCorrupt          Code = "CORRUPT"
	CodeUnsupported      Code = "UNSUPPORTED"
	CodeTimeout          Code = "TIMEOUT"
	CodeFailed           Code = "FAILED"
)

// Sentinels for use with errors.Is. Matching is by code only.
var (
	ErrBadParam         = &Error{Code: CodeBadParam, Message: "bad parameter"}
	ErrBadHandle        = &Error{Code: CodeBadHandle, Message: "bad handle"}
	ErrBadState         = &Error{Code: CodeBadState, Message: "bad state"}
	ErrNoMore           = &Error{Code: CodeNoMore, Message: "no more"}
	ErrResourceNotFound = &Error{Code: CodeResourceNotFound, Message: "resource not found"}
	ErrNoMemory         = &Error{Code: CodeNoMemory, Message: "out of memory"}
	ErrCorrupt          = &Error{Code: CodeCorrupt, Message: "corruption suspected"}
	ErrUnsupported      = &Error{Code: CodeUnsupported, Message: "unsupported"}
	ErrTimeout          = &Error{Code: CodeTimeout, Message: "timed out"}
	ErrFailed           = &Error{Code: CodeFailed, Message: "operation failed"}
)

// Error is a coded error.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// New creates an error with the given code and message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given code that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HasCode checks if the error matches a specific code.
func (e *Error) HasCode(code Code) bool {
	return e.Code == code
}

// CodeOf returns the code of the first *Error in err's chain.
// A non-nil error without a code reports CodeFailed.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeFailed
}
