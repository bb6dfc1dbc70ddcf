// Package apperr defines the error taxonomy shared by the agent's request
// router and the controller's remote calls, so that every failure mode ends
// up in exactly one of a small set of buckets instead of leaking ad-hoc
// strings through the wire protocol.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the five buckets a caller-visible error can fall into.
type Kind string

const (
	// BadRequest covers malformed framing, missing fields, unsafe filenames.
	BadRequest Kind = "bad_request"
	// NotFound covers unknown task ids or missing files.
	NotFound Kind = "not_found"
	// Unavailable covers unreadable OS probes or an unreachable agent.
	Unavailable Kind = "unavailable"
	// Timeout covers a per-call deadline exceeded.
	Timeout Kind = "timeout"
	// Internal covers anything unexpected; never allowed to crash the process.
	Internal Kind = "internal"
)

// Error is the concrete error type carried across the router boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error wrapping cause, keeping cause's message if message is empty.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// BadRequestf is a convenience constructor for the common Kind.
func BadRequestf(format string, args ...interface{}) *Error {
	return New(BadRequest, fmt.Sprintf(format, args...))
}

// NotFoundf is a convenience constructor for the common Kind.
func NotFoundf(format string, args ...interface{}) *Error {
	return New(NotFound, fmt.Sprintf(format, args...))
}

// As extracts an *Error from err, or synthesizes an Internal one if err is
// not already typed — the catch-all that guarantees every handler returns a
// well-formed envelope, per the propagation rule: no error escapes a handler
// as anything other than one of these five kinds.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Wrap(Internal, "", err)
}
