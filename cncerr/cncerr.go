// Package cncerr defines the stable, abstract error taxonomy used across
// the controller engine so callers can switch on error kind instead of
// matching strings.
package cncerr

import "errors"

// Kind is a stable error category, independent of which dialect or
// subsystem produced it.
type Kind string

const (
	CommError           Kind = "comm_error"
	ParseError          Kind = "parse_error"
	MachineError        Kind = "machine_error"
	LimitHit            Kind = "limit_hit"
	ProbeNotTripped     Kind = "probe_not_tripped"
	ProbeInitialState   Kind = "probe_initial_state"
	SafetyInterlock     Kind = "safety_interlock"
	Cancelled           Kind = "cancelled"
	InvalidArgument     Kind = "invalid_argument"
	InternalError       Kind = "internal_error"
	NotFound            Kind = "not_found"
	UnsupportedOp       Kind = "unsupported_operation"
)

// Error is the concrete error type returned by this module. Op names the
// operation that failed (e.g. "move", "probe", "send"); Err, if set, is
// the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Code string // dialect-specific code/subcode, when known (e.g. GRBL "9", "position_unknown")
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with the given kind and operation.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error wrapping an underlying cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithCode attaches a dialect-specific code/subcode to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}
