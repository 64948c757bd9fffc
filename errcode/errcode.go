package errcode

import "errors"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	InvalidTopic   Code = "invalid_topic"
	UnknownPin     Code = "unknown_pin"
	Timeout        Code = "timeout"

	// Sensor lifecycle.
	InitFailed Code = "init_failed" // sensor handle could not be created
	ReadFailed Code = "read_failed" // driver returned the NaN sentinel

	// RPC dispatch.
	NoHandler        Code = "no_handler"
	AlreadyResponded Code = "already_responded"
	NotConnected     Code = "not_connected"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
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
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.InitFailed) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	return Error
}

// RPC maps a code onto the numeric error space used in RPC frames. The values
// follow HTTP status semantics so the HTTP channel can reuse them directly.
func RPC(c Code) int {
	switch c {
	case OK:
		return 0
	case InvalidParams, InvalidPayload, InvalidTopic:
		return 400
	case NoHandler, UnknownPin:
		return 404
	case AlreadyResponded:
		return 409
	case NotConnected:
		return 503
	case Timeout:
		return 504
	default:
		return 500
	}
}
