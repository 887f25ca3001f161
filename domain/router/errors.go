package router

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a device operation failure so callers never have to
// match on message text.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindNotConfigured ErrorKind = "not_configured"
	KindConnectivity  ErrorKind = "connectivity"
	KindNotFound      ErrorKind = "not_found"
	KindInvalidInput  ErrorKind = "invalid_input"
	KindDevice        ErrorKind = "device"
)

// Messages kept stable for tooling that still matches on text.
const (
	MsgNotConfigured = "Router Not Configured"
	MsgTimeout       = "Connection timed out"
)

// Error is a classified device operation failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err, using err's text as the message.
func Wrap(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}

// Common errors.
var (
	ErrNotConfigured = &Error{Kind: KindNotConfigured, Message: MsgNotConfigured}
	ErrTimeout       = &Error{Kind: KindConnectivity, Message: MsgTimeout}
)

// NotFound reports a missing credential for username.
func NotFound(username string) *Error {
	return Errorf(KindNotFound, "PPPoE secret '%s' not found", username)
}

// KindOf returns the kind of err, KindDevice for unclassified errors,
// and KindNone for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDevice
}

// MessageOf returns the operator-facing message for err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return KindOf(err) == KindConnectivity
}
