package netsift

import (
	"errors"
	"strings"
)

// Error is the netsift error domain type.
//
// Errors coming from netsift components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Implementers of netsift components should create an Error at the system
// boundary (e.g. when using a database client, an SSH transport, or the
// inference runtime) and intermediate layers should not wrap in another Error
// except to add additional [ErrorKind] information. That is to say, use
// [fmt.Errorf] with a "%w" verb in preference to creating a containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrBadInput,
		ErrNotFound,
		ErrUnauthorized,
		ErrRateLimited,
		ErrTimeout,
		ErrUpstream,
		ErrTransient,
		ErrCorrupt,
		ErrInternal:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// The kinds mirror the HTTP surface: handlers map each kind onto exactly one
// status code. If an error is unsure which kind to use, ErrInternal should be
// used.
type ErrorKind string

// Defined error kinds.
var (
	ErrBadInput     = ErrorKind("bad-input")    // malformed request: unknown platform, bad version string, invalid snapshot
	ErrNotFound     = ErrorKind("not-found")    // unknown analysis, vulnerability, device, or scan id
	ErrUnauthorized = ErrorKind("unauthorized") // missing or invalid admin secret
	ErrRateLimited  = ErrorKind("rate-limited") // per-client window exceeded
	ErrTimeout      = ErrorKind("timeout")      // operation exceeded its deadline
	ErrUpstream     = ErrorKind("upstream")     // inference runtime or SSH peer failed
	ErrTransient    = ErrorKind("transient")    // may succeed on retry; retried internally with caps
	ErrCorrupt      = ErrorKind("corrupt")      // offline package failed validation
	ErrInternal     = ErrorKind("internal")     // non-specific internal error
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
