// Package cardkiterr provides the closed error taxonomy shared by every
// layer of cardkit: transports, sessions, devices, platforms and the TLV
// decoder all report failures as a cardkiterr.Error rather than an ad-hoc
// error string, so callers can branch on Kind without parsing messages.
package cardkiterr

import (
	"errors"
	"fmt"
)

// Kind is a stable, closed classification of what went wrong. Applications
// are expected to switch on Kind, never on the message text.
type Kind string

// The closed set of error kinds. No other Kind values are ever produced.
const (
	NotInitialized      Kind = "NOT_INITIALIZED"
	AlreadyInitialized  Kind = "ALREADY_INITIALIZED"
	NoReaders           Kind = "NO_READERS"
	ReaderError         Kind = "READER_ERROR"
	NotConnected        Kind = "NOT_CONNECTED"
	AlreadyConnected    Kind = "ALREADY_CONNECTED"
	AlreadyAcquired     Kind = "ALREADY_ACQUIRED"
	CardNotPresent      Kind = "CARD_NOT_PRESENT"
	TransmissionError   Kind = "TRANSMISSION_ERROR"
	ProtocolError       Kind = "PROTOCOL_ERROR"
	Timeout             Kind = "TIMEOUT"
	ResourceLimit       Kind = "RESOURCE_LIMIT"
	InvalidParameter    Kind = "INVALID_PARAMETER"
	UnsupportedOp       Kind = "UNSUPPORTED_OPERATION"
	PlatformError       Kind = "PLATFORM_ERROR"
)

// Error is a tagged error value. It never embeds backend-specific types or
// raw pointers/handles; Cause carries the underlying error for debugging
// only and is not part of the safe message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that records cause for debugging via Unwrap.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface with a safe, backend-agnostic message.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause so errors.Is/As can see through mapped errors.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Debug returns a verbose representation including the cause chain. Safe
// for log output, not for surfacing to end users.
func (e *Error) Debug() string {
	if e.Cause == nil {
		return e.Error()
	}
	return fmt.Sprintf("%s (cause: %v)", e.Error(), e.Cause)
}

// Is lets errors.Is(err, cardkiterr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Of returns the Kind carried by err, or PlatformError if err does not
// carry a recognized Kind (the "unknown failure" mapping rule).
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return PlatformError
}
