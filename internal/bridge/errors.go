package bridge

import (
	"errors"
	"fmt"
)

// Code classifies a bridge error. Codes travel on the wire so the
// content process can tell a cancelled request from a failed one.
type Code string

const (
	CodeMalformedMessage      Code = "malformed-message"
	CodeUnknownOperation      Code = "unknown-operation"
	CodeSessionConflict       Code = "session-conflict"
	CodeCancelled             Code = "cancelled"
	CodePrivilegedAPIFailure  Code = "privileged-api-failure"
	CodeInternalProtocolFault Code = "internal-protocol-fault"
	CodeAccessDenied          Code = "access-denied"
	CodeUnavailable           Code = "unavailable"
)

// Error is the error half of a reply envelope.
type Error struct {
	_       struct{} `cbor:",toarray"`
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so callers can write
// errors.Is(err, bridge.ErrCancelled).
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is comparisons. Their messages are never sent.
var (
	ErrMalformedMessage      = &Error{Code: CodeMalformedMessage}
	ErrUnknownOperation      = &Error{Code: CodeUnknownOperation}
	ErrSessionConflict       = &Error{Code: CodeSessionConflict}
	ErrCancelled             = &Error{Code: CodeCancelled}
	ErrPrivilegedAPIFailure  = &Error{Code: CodePrivilegedAPIFailure}
	ErrInternalProtocolFault = &Error{Code: CodeInternalProtocolFault}
	ErrAccessDenied          = &Error{Code: CodeAccessDenied}
	ErrUnavailable           = &Error{Code: CodeUnavailable}
)

// AsError converts any error into a wire error. Errors that are already
// *Error keep their code; anything else is an internal fault.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var bridgeErr *Error
	if errors.As(err, &bridgeErr) {
		return bridgeErr
	}
	return &Error{Code: CodeInternalProtocolFault, Message: err.Error()}
}

// DecodeError is returned by Decode. ID is the envelope id when the
// envelope itself was readable, so the router can still address an error
// reply to the sender. Name is the raw operation name, if it was read.
type DecodeError struct {
	ID   uint64
	Kind Kind
	Name string
	Err  *Error
}

func (e *DecodeError) Error() string { return e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }
