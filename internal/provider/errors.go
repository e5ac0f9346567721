package provider

import (
	"errors"
	"fmt"
)

// ErrNotImplemented marks capabilities served by the stub adapter.
var ErrNotImplemented = errors.New("provider not implemented")

// Error is the typed failure every adapter returns. Transient failures are
// expected to resolve on retry (timeouts, temporary unavailability); fatal
// ones are not (bad credentials, not found).
type Error struct {
	Provider  string
	Op        string
	Message   string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" && e.Op != "" {
		return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a typed provider error.
func NewError(providerID, op, message string, transient bool, err error) *Error {
	return &Error{
		Provider:  providerID,
		Op:        op,
		Message:   message,
		Transient: transient,
		Err:       err,
	}
}

// NotImplemented is the fixed fatal failure used by the stub adapter.
func NotImplemented(providerID, op string) *Error {
	return &Error{
		Provider:  providerID,
		Op:        op,
		Message:   "not implemented",
		Transient: false,
		Err:       ErrNotImplemented,
	}
}

// AsError extracts the typed provider error, if any.
func AsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// IsTransient reports whether err is a typed, retryable provider error.
// Untyped errors are not transient here; the retry manager decides how to
// treat those.
func IsTransient(err error) bool {
	if perr, ok := AsError(err); ok {
		return perr.Transient
	}
	return false
}
