package errcode

// Code is a stable error identifier crossing driver and transport boundaries.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	NoResponse  Code = "no_response"
	BadResponse Code = "bad_response"
	BadChecksum Code = "bad_checksum"
	ShortFrame  Code = "short_frame"
	Timeout     Code = "timeout"

	PinFailed   Code = "pin_failed"
	PortFailed  Code = "port_failed"
	PortBusy    Code = "port_busy"
	Storage     Code = "storage"
	UnknownKey  Code = "unknown_key"
	BadPayload  Code = "bad_payload"
	Unsupported Code = "unsupported"

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
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Wrap attaches an operation name and cause to a code.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}
