package failure

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong.
type Kind string

const (
	KindConnection Kind = "connection" // unreachable, refused or timed out at connect
	KindProtocol   Kind = "protocol"   // malformed or truncated framing, bad handshake
	KindIO         Kind = "io"         // mid-stream read/write failure
	KindParse      Kind = "parse"      // non-JSON or schema-violating message
)

// Phase names the step of a session in which an error surfaced.
type Phase string

const (
	PhaseConnect   Phase = "connect"
	PhaseHandshake Phase = "handshake"
	PhaseSend      Phase = "send"
	PhaseReceive   Phase = "receive"
	PhaseShutdown  Phase = "shutdown"
)

// Error is the typed error returned by the framed and streaming clients.
type Error struct {
	Kind    Kind
	Phase   Phase
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Phase, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Phase, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error without an underlying cause.
func New(kind Kind, phase Phase, message string) *Error {
	return &Error{Kind: kind, Phase: phase, Message: message}
}

// Wrap attaches kind and phase to err. An error that is already typed is
// returned unchanged so the innermost classification wins.
func Wrap(kind Kind, phase Phase, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Phase:   phase,
		Message: message,
		Cause:   err,
	}
}

// Connection wraps a connect-time failure.
func Connection(message string, err error) error {
	return Wrap(KindConnection, PhaseConnect, message, err)
}

// Protocol wraps a framing or handshake violation.
func Protocol(phase Phase, message string, err error) error {
	if err == nil {
		return New(KindProtocol, phase, message)
	}
	return Wrap(KindProtocol, phase, message, err)
}

// IO wraps a mid-stream read or write failure.
func IO(phase Phase, message string, err error) error {
	return Wrap(KindIO, phase, message, err)
}

// Parse wraps a message decode failure.
func Parse(phase Phase, message string, err error) error {
	return Wrap(KindParse, phase, message, err)
}

// IsKind reports whether the first typed error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// PhaseOf returns the phase of the first typed error in the chain, or "" when
// err carries no classification.
func PhaseOf(err error) Phase {
	var target *Error
	if errors.As(err, &target) {
		return target.Phase
	}
	return ""
}

// KindOf returns the kind of the first typed error in the chain.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
