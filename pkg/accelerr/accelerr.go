// Package accelerr provides the error taxonomy shared by every uadk-go
// package. Errors carry a Code so callers can branch with errors.Is
// against the exported sentinels while still unwrapping to the OS error.
package accelerr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code classifies a failure.
type Code string

const (
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodeNotFound          Code = "NOT_FOUND"
	CodeResourceExhausted Code = "RESOURCE_EXHAUSTED"
	CodeIO                Code = "IO_ERROR"
	CodeUnavailable       Code = "UNAVAILABLE"
	CodeNotSupported      Code = "NOT_SUPPORTED"
)

// Sentinels for errors.Is. Any *Error with the same Code matches.
var (
	ErrInvalidArgument   = &Error{Code: CodeInvalidArgument}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrResourceExhausted = &Error{Code: CodeResourceExhausted}
	ErrIO                = &Error{Code: CodeIO}
	ErrUnavailable       = &Error{Code: CodeUnavailable}
	ErrNotSupported      = &Error{Code: CodeNotSupported}
)

// Error is a classified failure of operation Op.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Code)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Msg == "" && t.Err == nil
}

// New returns a classified error with a formatted message.
func New(code Code, op, format string, args ...interface{}) error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the Code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Errno returns the negative errno carried by err, following the
// negative-error-code convention of device control results. Errors without
// an errno map to -EINVAL for InvalidArgument and -EIO otherwise.
func Errno(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return -int(syscall.EINVAL)
	case CodeNotFound:
		return -int(syscall.ENODEV)
	case CodeResourceExhausted:
		return -int(syscall.ENOMEM)
	case CodeUnavailable:
		return -int(syscall.EBUSY)
	case CodeNotSupported:
		return -int(syscall.EOPNOTSUPP)
	}
	return -int(syscall.EIO)
}
