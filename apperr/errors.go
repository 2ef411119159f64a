// Package apperr carries the error taxonomy shared by the store, the
// engines and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Op      string `json:"-"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error with the same code, so sentinel values work
// with errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Constructors
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation rejects input before any store call is made.
func Validation(msg string) error {
	return New(CodeInvalidArgument, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func AlreadyExists(msg string) error {
	return New(CodeAlreadyExists, msg)
}

func Unauthorized(msg string) error {
	return New(CodeUnauthenticated, msg)
}

func Forbidden(msg string) error {
	return New(CodePermissionDenied, msg)
}

// Internal wraps a failure the client cannot act on.
func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// Unavailable marks a transient backend failure of the named store operation.
func Unavailable(op string, cause error) error {
	return &Error{Code: CodeUnavailable, Message: "store unavailable", Op: op, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Sentinel values for errors.Is checks.
var (
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrInvalid       = &Error{Code: CodeInvalidArgument}
	ErrUnavailable   = &Error{Code: CodeUnavailable}
	ErrAlreadyExists = &Error{Code: CodeAlreadyExists}
	ErrForbidden     = &Error{Code: CodePermissionDenied}
)
