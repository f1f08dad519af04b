// Package apierr defines the error categories surfaced by the meet client.
package apierr

import (
	"errors"
	"fmt"
)

// Code represents a stable error category that callers can switch on.
type Code string

const (
	CodeConfiguration     Code = "configuration"
	CodeInvalidInput      Code = "invalid_input"
	CodeNoRefreshToken    Code = "no_refresh_token"
	CodeTransport         Code = "transport_failure"
	CodeUpstreamRejected  Code = "upstream_rejected"
	CodeMalformedResponse Code = "malformed_response"
	CodeRefreshFailed     Code = "refresh_failed"
)

// Error carries a Code plus the operation, HTTP status and server message
// when one is known.
type Error struct {
	Code    Code
	Op      string
	Status  int
	Message string
	err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// New wraps err with the provided code. A nil err is allowed; the code
// alone then describes the failure.
func New(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, err: err}
}

// Configuration reports a missing or invalid setting.
func Configuration(op, format string, args ...any) *Error {
	return &Error{Code: CodeConfiguration, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput reports a caller-supplied argument that cannot be sent.
func InvalidInput(op, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Rejected reports a non-success HTTP response.
func Rejected(op string, status int, message string) *Error {
	return &Error{Code: CodeUpstreamRejected, Op: op, Status: status, Message: message}
}

// RefreshFailed wraps the transport or upstream failure hit while renewing
// the access token. The status of a wrapped rejection is carried over.
func RefreshFailed(op string, cause error) *Error {
	e := &Error{Code: CodeRefreshFailed, Op: op, err: cause}
	var inner *Error
	if errors.As(cause, &inner) {
		e.Status = inner.Status
	}
	return e
}

// IsCode reports whether any error in err's chain has the given code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.err
	}
	return false
}

// StatusOf returns the HTTP status of the outermost coded error, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
